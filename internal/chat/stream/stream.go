// Package stream adapts the Stream Chat server SDK to chat.Provider.
package stream

import (
	"context"
	"fmt"
	"time"

	stream "github.com/GetStream/stream-chat-go/v5"

	"github.com/lingomate/backend/internal/chat"
)

// kindField carries the message kind, since Stream restricts the message type
// field to its own values.
const kindField = "kind"

// Provider implements chat.Provider with a Stream client.
type Provider struct {
	client *stream.Client
}

// New constructs a Stream-backed provider from API credentials.
func New(apiKey, apiSecret string) (*Provider, error) {
	client, err := stream.NewClient(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("create stream client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) UpsertUser(ctx context.Context, user chat.RemoteUser) error {
	_, err := p.client.UpsertUser(ctx, &stream.User{
		ID:    user.ID,
		Name:  user.Name,
		Image: user.Image,
	})
	return err
}

// CreateToken issues a non-expiring user token.
func (p *Provider) CreateToken(userID string) (string, error) {
	return p.client.CreateToken(userID, time.Time{})
}

// CreateChannel is idempotent on the Stream side: creating an existing
// channel returns it.
func (p *Provider) CreateChannel(ctx context.Context, channelType, channelID, creatorID string, members []string) error {
	_, err := p.client.CreateChannel(ctx, channelType, channelID, creatorID, &stream.ChannelRequest{
		Members: members,
	})
	return err
}

func (p *Provider) AddMembers(ctx context.Context, channelType, channelID string, members []string) error {
	_, err := p.client.Channel(channelType, channelID).AddMembers(ctx, members)
	return err
}

func (p *Provider) SendMessage(ctx context.Context, channelType, channelID string, message chat.Message) error {
	msg := &stream.Message{
		Text: message.Text,
		User: &stream.User{
			ID:    message.Author.ID,
			Name:  message.Author.Name,
			Image: message.Author.Image,
		},
		ExtraData: map[string]interface{}{kindField: message.Kind},
	}
	_, err := p.client.Channel(channelType, channelID).SendMessage(ctx, msg, message.Author.ID)
	return err
}

func (p *Provider) QueryChannels(ctx context.Context, channelType, memberID string, limit int) ([]chat.Channel, error) {
	resp, err := p.client.QueryChannels(ctx, &stream.QueryOption{
		Filter: map[string]interface{}{
			"type":    channelType,
			"members": map[string]interface{}{"$in": []string{memberID}},
		},
		Limit: limit,
	}, &stream.SortOption{Field: "last_message_at", Direction: -1})
	if err != nil {
		return nil, err
	}

	channels := make([]chat.Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		channels = append(channels, toChannel(ch))
	}
	return channels, nil
}

func (p *Provider) QueryPresence(ctx context.Context, userIDs []string) (map[string]bool, error) {
	online := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}
	resp, err := p.client.QueryUsers(ctx, &stream.QueryOption{
		Filter: map[string]interface{}{"id": map[string]interface{}{"$in": userIDs}},
		Limit:  len(userIDs),
	})
	if err != nil {
		return nil, err
	}
	for _, u := range resp.Users {
		online[u.ID] = u.Online
	}
	return online, nil
}

func toChannel(ch *stream.Channel) chat.Channel {
	out := chat.Channel{ID: ch.ID}
	for _, m := range ch.Members {
		id := m.UserID
		if id == "" && m.User != nil {
			id = m.User.ID
		}
		if id != "" {
			out.Members = append(out.Members, id)
		}
	}
	if n := len(ch.Messages); n > 0 {
		out.LastMessage = ch.Messages[n-1].Text
	}
	if !ch.LastMessageAt.IsZero() {
		at := ch.LastMessageAt.UTC()
		out.LastMessageAt = &at
	}
	return out
}

var _ chat.Provider = (*Provider)(nil)
