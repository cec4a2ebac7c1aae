package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lingomate/backend/internal/config"
)

// AvatarStorage uploads profile pictures to an S3-compatible bucket.
type AvatarStorage struct {
	uploader *manager.Uploader
	bucket   string
	baseURL  string
}

// NewAvatarStorage configures an uploader targeting the avatar bucket.
func NewAvatarStorage(ctx context.Context, cfg config.ObjectStoreConfig) (*AvatarStorage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("avatar storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return &AvatarStorage{
		uploader: uploader,
		bucket:   cfg.Bucket,
		baseURL:  publicBaseURL(cfg, endpoint),
	}, nil
}

// Save uploads r under key and returns the public URL of the object.
func (s *AvatarStorage) Save(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("avatar storage: empty key")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
		ACL:    s3types.ObjectCannedACLPublicRead,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("avatar storage upload %s: %w", key, err)
	}

	return s.baseURL + "/" + key, nil
}

// publicBaseURL picks the URL prefix under which uploaded objects are served.
// An explicit public URL wins; otherwise objects are addressed path-style on
// the custom endpoint or virtual-host style on AWS.
func publicBaseURL(cfg config.ObjectStoreConfig, endpoint string) string {
	if base := strings.TrimSpace(cfg.PublicBaseURL); base != "" {
		return strings.TrimSuffix(base, "/")
	}
	if endpoint != "" {
		return strings.TrimSuffix(endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}
