package chat

import (
	"context"
	"errors"
	"time"
)

// MessagingChannel is the provider channel type used for one-to-one chats.
const MessagingChannel = "messaging"

// ErrUnavailable is returned by every operation of a provider that was not
// configured with credentials.
var ErrUnavailable = errors.New("chat provider is not configured")

// RemoteUser is the identity mirrored into the chat provider.
type RemoteUser struct {
	ID    string
	Name  string
	Image string
}

// Message is a chat message authored by Author.
type Message struct {
	Author RemoteUser
	Text   string
	Kind   string
}

// Channel summarises a provider channel for listing.
type Channel struct {
	ID            string
	Members       []string
	LastMessage   string
	LastMessageAt *time.Time
}

// Provider is the subset of the hosted chat service this backend consumes.
type Provider interface {
	UpsertUser(ctx context.Context, user RemoteUser) error
	CreateToken(userID string) (string, error)
	CreateChannel(ctx context.Context, channelType, channelID, creatorID string, members []string) error
	AddMembers(ctx context.Context, channelType, channelID string, members []string) error
	SendMessage(ctx context.Context, channelType, channelID string, message Message) error
	// QueryChannels returns channels of channelType that memberID belongs to,
	// most recently active first.
	QueryChannels(ctx context.Context, channelType, memberID string, limit int) ([]Channel, error)
	// QueryPresence reports which of userIDs are currently online.
	QueryPresence(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// Unavailable is a Provider that fails every call with ErrUnavailable. It is
// injected when chat credentials are absent so the rest of the API keeps working.
type Unavailable struct{}

func (Unavailable) UpsertUser(context.Context, RemoteUser) error { return ErrUnavailable }

func (Unavailable) CreateToken(string) (string, error) { return "", ErrUnavailable }

func (Unavailable) CreateChannel(context.Context, string, string, string, []string) error {
	return ErrUnavailable
}

func (Unavailable) AddMembers(context.Context, string, string, []string) error { return ErrUnavailable }

func (Unavailable) SendMessage(context.Context, string, string, Message) error { return ErrUnavailable }

func (Unavailable) QueryChannels(context.Context, string, string, int) ([]Channel, error) {
	return nil, ErrUnavailable
}

func (Unavailable) QueryPresence(context.Context, []string) (map[string]bool, error) {
	return nil, ErrUnavailable
}

var _ Provider = Unavailable{}
