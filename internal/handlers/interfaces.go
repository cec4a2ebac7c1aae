package handlers

import (
	"context"
	"io"
	"time"

	"github.com/lingomate/backend/internal/accounts"
	"github.com/lingomate/backend/internal/chat"
	"github.com/lingomate/backend/internal/friends"
	"github.com/lingomate/backend/internal/models"
)

// AccountService captures the account operations used by the auth and user handlers.
type AccountService interface {
	Signup(ctx context.Context, in accounts.SignupInput) (models.User, error)
	Login(ctx context.Context, email, password string) (models.User, error)
	Onboard(ctx context.Context, userID string, in accounts.OnboardInput) (models.User, error)
	UpdateAvatar(ctx context.Context, userID, filename, contentType string, r io.Reader) (models.User, error)
	AvatarUploadsEnabled() bool
}

// SessionIssuer signs session tokens.
type SessionIssuer interface {
	Issue(userID string) (string, time.Time, error)
	TTL() time.Duration
}

// FriendService captures the friend request workflow.
type FriendService interface {
	Send(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error)
	Accept(ctx context.Context, requestID, actingUserID string) (models.FriendRequest, error)
	Friends(ctx context.Context, userID string) ([]models.PublicUser, error)
	Recommended(ctx context.Context, userID string) ([]models.PublicUser, error)
	Requests(ctx context.Context, userID string) (friends.Requests, error)
	Outgoing(ctx context.Context, userID string) ([]models.PopulatedFriendRequest, error)
}

// ChatService captures the chat provider bridge.
type ChatService interface {
	UpsertRemoteUser(ctx context.Context, user chat.RemoteUser) chat.MirrorResult
	IssueChatToken(ctx context.Context, userID string) (string, error)
	Notify(ctx context.Context, sender, recipient chat.RemoteUser, text, kind string) error
	LatestChats(ctx context.Context, userID string, lookup chat.UserLookup) ([]chat.LatestChat, error)
}

// UserDirectory resolves users by id.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}
