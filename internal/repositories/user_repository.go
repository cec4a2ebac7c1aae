package repositories

import (
	"context"

	"github.com/lingomate/backend/internal/models"
)

// UserRepository defines the data access contract for users and their friend sets.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	// UpdateProfile applies the onboarding profile and marks the user onboarded.
	UpdateProfile(ctx context.Context, id string, profile models.Profile) (models.User, error)
	UpdateProfilePic(ctx context.Context, id, url string) (models.User, error)
	// AddFriend inserts friendID into userID's friend set if absent.
	AddFriend(ctx context.Context, userID, friendID string) error
	// ListRecommended returns onboarded users that are neither userID nor in exclude.
	ListRecommended(ctx context.Context, userID string, exclude []string) ([]models.User, error)
}
