// Package accounts implements signup, login, onboarding and profile updates.
package accounts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/juju/errors"

	"github.com/lingomate/backend/internal/auth"
	"github.com/lingomate/backend/internal/chat"
	"github.com/lingomate/backend/internal/logging"
	"github.com/lingomate/backend/internal/models"
	"github.com/lingomate/backend/internal/repositories"
)

const minPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var avatarExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

// Mirror pushes local identities into the chat provider.
type Mirror interface {
	UpsertRemoteUser(ctx context.Context, user chat.RemoteUser) chat.MirrorResult
}

// AvatarStore persists uploaded profile pictures and returns their public URL.
type AvatarStore interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// SignupInput carries the fields required to register.
type SignupInput struct {
	Email    string
	Password string
	FullName string
}

// OnboardInput carries the profile completed after signup.
type OnboardInput struct {
	FullName         string
	Bio              string
	NativeLanguage   string
	LearningLanguage string
	Location         string
	ProfilePic       string
}

// MissingFieldsError lists the onboarding fields that were left empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string { return "All fields are required" }

// Is classifies the error as NotValid.
func (e *MissingFieldsError) Is(target error) bool { return target == errors.NotValid }

// Service manages member accounts.
type Service struct {
	users   repositories.UserRepository
	mirror  Mirror
	avatars AvatarStore

	now        func() time.Time
	newID      func() string
	pickAvatar func() string
}

// Option customises a Service.
type Option func(*Service)

// WithAvatarStore enables profile picture uploads.
func WithAvatarStore(store AvatarStore) Option {
	return func(s *Service) { s.avatars = store }
}

// NewService constructs an account service.
func NewService(users repositories.UserRepository, mirror Mirror, opts ...Option) *Service {
	s := &Service{
		users:      users,
		mirror:     mirror,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      models.NewID,
		pickAvatar: randomAvatar,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup validates and registers a new member with a random generated avatar.
func (s *Service) Signup(ctx context.Context, in SignupInput) (user models.User, err error) {
	ctx, span := logging.StartSpan(ctx, "accounts.signup")
	defer func() { span.End(err) }()

	email := normalizeEmail(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	switch {
	case email == "" || in.Password == "" || fullName == "":
		return models.User{}, errors.NewNotValid(nil, "All fields are required")
	case utf8.RuneCountInString(in.Password) < minPasswordLength:
		return models.User{}, errors.NewNotValid(nil, "Password must be at least 6 characters long")
	case !emailPattern.MatchString(email):
		return models.User{}, errors.NewNotValid(nil, "Invalid email format")
	}

	_, err = s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return models.User{}, errEmailTaken()
	case !errors.Is(err, repositories.ErrNotFound):
		return models.User{}, errors.Annotate(err, "check existing account")
	}

	hashed, err := auth.HashPassword(in.Password)
	if err != nil {
		return models.User{}, errors.Trace(err)
	}

	now := s.now()
	user = models.User{
		ID:         s.newID(),
		Email:      email,
		Password:   hashed,
		FullName:   fullName,
		ProfilePic: s.pickAvatar(),
		Friends:    []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return models.User{}, errEmailTaken()
		}
		return models.User{}, errors.Annotate(err, "create user")
	}

	s.mirrorUser(ctx, user)
	logging.FromContext(ctx).Info("account created", slog.String("user_id", user.ID))
	return user, nil
}

// Login authenticates email and password.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return models.User{}, errors.NewNotValid(nil, "Email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, errInvalidCredentials()
		}
		return models.User{}, errors.Annotate(err, "load user")
	}

	if err := auth.ComparePassword(user.Password, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			logging.FromContext(ctx).Warn("login password mismatch", slog.String("user_id", user.ID))
			return models.User{}, errInvalidCredentials()
		}
		return models.User{}, errors.Trace(err)
	}
	return user, nil
}

// Onboard completes the member's profile and marks them onboarded.
func (s *Service) Onboard(ctx context.Context, userID string, in OnboardInput) (models.User, error) {
	profile := models.Profile{
		FullName:         strings.TrimSpace(in.FullName),
		Bio:              strings.TrimSpace(in.Bio),
		NativeLanguage:   strings.TrimSpace(in.NativeLanguage),
		LearningLanguage: strings.TrimSpace(in.LearningLanguage),
		Location:         strings.TrimSpace(in.Location),
		ProfilePic:       strings.TrimSpace(in.ProfilePic),
	}

	var missing []string
	for _, field := range []struct{ name, value string }{
		{"fullName", profile.FullName},
		{"bio", profile.Bio},
		{"nativeLanguage", profile.NativeLanguage},
		{"learningLanguage", profile.LearningLanguage},
		{"location", profile.Location},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return models.User{}, &MissingFieldsError{Fields: missing}
	}

	user, err := s.users.UpdateProfile(ctx, userID, profile)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, errUserNotFound()
		}
		return models.User{}, errors.Annotate(err, "update profile")
	}

	s.mirrorUser(ctx, user)
	return user, nil
}

// Me returns the member record.
func (s *Service) Me(ctx context.Context, userID string) (models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, errUserNotFound()
		}
		return models.User{}, errors.Annotate(err, "load user")
	}
	return user, nil
}

// AvatarUploadsEnabled reports whether an avatar store is configured.
func (s *Service) AvatarUploadsEnabled() bool { return s.avatars != nil }

// UpdateAvatar uploads a new profile picture and stores its URL.
func (s *Service) UpdateAvatar(ctx context.Context, userID, filename, contentType string, r io.Reader) (user models.User, err error) {
	if s.avatars == nil {
		return models.User{}, errors.NewNotSupported(nil, "Avatar uploads are not configured")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !avatarExtensions[ext] {
		return models.User{}, errors.NewNotValid(nil, "Unsupported image type")
	}

	ctx, span := logging.StartSpan(ctx, "accounts.update_avatar")
	defer func() { span.End(err) }()

	if _, err := s.Me(ctx, userID); err != nil {
		return models.User{}, err
	}

	key := fmt.Sprintf("avatars/%s/%s%s", userID, s.newID(), ext)
	url, err := s.avatars.Save(ctx, key, contentType, r)
	if err != nil {
		return models.User{}, errors.Annotate(err, "upload avatar")
	}

	user, err = s.users.UpdateProfilePic(ctx, userID, url)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, errUserNotFound()
		}
		return models.User{}, errors.Annotate(err, "store avatar url")
	}

	s.mirrorUser(ctx, user)
	return user, nil
}

func (s *Service) mirrorUser(ctx context.Context, user models.User) {
	if s.mirror == nil {
		return
	}
	res := s.mirror.UpsertRemoteUser(ctx, chat.RemoteUserFor(user))
	switch {
	case res.OK():
	case res.Skipped:
		logging.FromContext(ctx).Debug("chat mirror skipped", slog.String("user_id", user.ID))
	default:
		logging.FromContext(ctx).Warn("chat mirror failed",
			slog.String("user_id", user.ID),
			slog.String("error", res.Err.Error()),
		)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomAvatar() string {
	return fmt.Sprintf("https://avatar.iran.liara.run/public/%d.png", rand.IntN(100)+1)
}

func errEmailTaken() error {
	return errors.NewAlreadyExists(nil, "Email already exists")
}

func errInvalidCredentials() error {
	return errors.NewUnauthorized(nil, "Invalid email or password")
}

func errUserNotFound() error {
	return errors.NewNotFound(nil, "User not found")
}
