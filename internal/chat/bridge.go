package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingomate/backend/internal/logging"
	"github.com/lingomate/backend/internal/metrics"
	"github.com/lingomate/backend/internal/models"
)

const (
	latestChatsLimit   = 20
	defaultMessageKind = "notification"
)

// MirrorResult reports the outcome of a best-effort identity mirror. Callers
// log failures and continue.
type MirrorResult struct {
	UserID  string
	Skipped bool
	Err     error
}

// OK reports whether the mirror was applied.
func (r MirrorResult) OK() bool { return r.Err == nil }

// UserLookup resolves local users by id.
type UserLookup interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// ChatFriend is the other participant of a chat.
type ChatFriend struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic"`
	IsOnline   bool   `json:"isOnline"`
}

// LatestChat summarises one conversation for the chat list.
type LatestChat struct {
	ID            string      `json:"_id"`
	Friend        *ChatFriend `json:"friend"`
	LastMessage   string      `json:"lastMessage"`
	LastMessageAt *time.Time  `json:"lastMessageAt"`
}

// Bridge adapts local accounts and friendships onto the chat provider.
type Bridge struct {
	provider Provider
}

// NewBridge wraps provider. A nil provider is treated as Unavailable.
func NewBridge(provider Provider) *Bridge {
	if provider == nil {
		provider = Unavailable{}
	}
	return &Bridge{provider: provider}
}

// RemoteUserFor projects a local user onto the provider identity.
func RemoteUserFor(user models.User) RemoteUser {
	return RemoteUser{ID: user.ID, Name: user.FullName, Image: user.ProfilePic}
}

// ChannelID derives the one-to-one channel id for a pair of users. The
// result does not depend on argument order.
func ChannelID(a, b string) string {
	return models.PairKey("-", a, b)
}

// UpsertRemoteUser mirrors user into the provider.
func (b *Bridge) UpsertRemoteUser(ctx context.Context, user RemoteUser) MirrorResult {
	result := MirrorResult{UserID: user.ID}
	err := b.provider.UpsertUser(ctx, user)
	switch {
	case err == nil:
		metrics.RecordChatMirror("upsert_user", metrics.OutcomeOK)
	case errors.Is(err, ErrUnavailable):
		result.Skipped = true
		result.Err = err
		metrics.RecordChatMirror("upsert_user", metrics.OutcomeSkipped)
	default:
		result.Err = fmt.Errorf("upsert chat user %s: %w", user.ID, err)
		metrics.RecordChatMirror("upsert_user", metrics.OutcomeFailed)
	}
	return result
}

// IssueChatToken returns a provider token for userID.
func (b *Bridge) IssueChatToken(ctx context.Context, userID string) (string, error) {
	token, err := b.provider.CreateToken(userID)
	if err != nil {
		return "", fmt.Errorf("create chat token: %w", err)
	}
	if token == "" {
		return "", errors.New("create chat token: provider returned empty token")
	}
	return token, nil
}

// Notify delivers text from sender to recipient in their shared channel,
// creating the channel and membership if needed.
func (b *Bridge) Notify(ctx context.Context, sender, recipient RemoteUser, text, kind string) error {
	ctx, span := logging.StartSpan(ctx, "chat.notify", slog.String("recipient_id", recipient.ID))
	err := b.notify(ctx, sender, recipient, text, kind)
	span.End(err)
	return err
}

func (b *Bridge) notify(ctx context.Context, sender, recipient RemoteUser, text, kind string) error {
	if kind == "" {
		kind = defaultMessageKind
	}
	channelID := ChannelID(sender.ID, recipient.ID)
	members := []string{sender.ID, recipient.ID}

	if err := b.provider.CreateChannel(ctx, MessagingChannel, channelID, sender.ID, members); err != nil {
		return fmt.Errorf("create channel %s: %w", channelID, err)
	}
	if err := b.provider.AddMembers(ctx, MessagingChannel, channelID, members); err != nil {
		return fmt.Errorf("add members to %s: %w", channelID, err)
	}
	if err := b.provider.SendMessage(ctx, MessagingChannel, channelID, Message{Author: sender, Text: text, Kind: kind}); err != nil {
		return fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return nil
}

// LatestChats lists userID's most recent conversations with the other member
// resolved through lookup and their presence taken from the provider.
func (b *Bridge) LatestChats(ctx context.Context, userID string, lookup UserLookup) ([]LatestChat, error) {
	channels, err := b.provider.QueryChannels(ctx, MessagingChannel, userID, latestChatsLimit)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}

	others := make(map[string]string, len(channels))
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		for _, member := range ch.Members {
			if member != userID {
				others[ch.ID] = member
				ids = append(ids, member)
				break
			}
		}
	}

	users := make(map[string]models.User, len(ids))
	online := map[string]bool{}
	if len(ids) > 0 {
		found, err := lookup.FindByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve chat members: %w", err)
		}
		for _, u := range found {
			users[u.ID] = u
		}

		presence, err := b.provider.QueryPresence(ctx, ids)
		if err != nil {
			logging.FromContext(ctx).Warn("chat presence lookup failed", slog.String("error", err.Error()))
		} else {
			online = presence
		}
	}

	chats := make([]LatestChat, 0, len(channels))
	for _, ch := range channels {
		otherID, ok := others[ch.ID]
		if !ok {
			continue
		}
		chat := LatestChat{ID: ch.ID, LastMessage: ch.LastMessage, LastMessageAt: ch.LastMessageAt}
		if u, ok := users[otherID]; ok {
			chat.Friend = &ChatFriend{
				ID:         u.ID,
				FullName:   u.FullName,
				ProfilePic: u.ProfilePic,
				IsOnline:   online[u.ID],
			}
		}
		chats = append(chats, chat)
	}
	return chats, nil
}
