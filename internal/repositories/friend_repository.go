package repositories

import (
	"context"

	"github.com/lingomate/backend/internal/models"
)

// FriendRepository defines data access for friend requests.
type FriendRepository interface {
	// CreateRequest persists a request, returning ErrConflict when any request
	// already exists for the unordered pair.
	CreateRequest(ctx context.Context, request models.FriendRequest) error
	FindRequest(ctx context.Context, id string) (models.FriendRequest, error)
	// FindBetween returns the request between a and b in either direction.
	FindBetween(ctx context.Context, a, b string) (models.FriendRequest, error)
	// AcceptRequest moves a pending request to accepted and adds each party to
	// the other's friend set. Returns ErrNotPending if it was not pending.
	AcceptRequest(ctx context.Context, id string) (models.FriendRequest, error)
	ListIncoming(ctx context.Context, recipientID string, status models.FriendRequestStatus) ([]models.FriendRequest, error)
	ListOutgoing(ctx context.Context, senderID string, status models.FriendRequestStatus) ([]models.FriendRequest, error)
	ListByStatus(ctx context.Context, status models.FriendRequestStatus) ([]models.FriendRequest, error)
}

// Store bundles the repositories backed by a single driver.
type Store interface {
	Users() UserRepository
	Friends() FriendRepository
	Close(ctx context.Context) error
}
