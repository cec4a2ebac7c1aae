// Package chattest provides an in-memory chat.Provider for tests.
package chattest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lingomate/backend/internal/chat"
)

// SentMessage records a message delivered through the fake.
type SentMessage struct {
	ChannelType string
	ChannelID   string
	Message     chat.Message
}

// Provider records calls and serves channels from memory. Set the *Err
// fields to force failures.
type Provider struct {
	mu sync.Mutex

	Users    map[string]chat.RemoteUser
	Channels map[string]*chat.Channel
	Messages []SentMessage
	Online   map[string]bool

	UpsertErr   error
	TokenErr    error
	ChannelErr  error
	SendErr     error
	QueryErr    error
	PresenceErr error

	now func() time.Time
}

// New returns an empty fake provider.
func New() *Provider {
	return &Provider{
		Users:    make(map[string]chat.RemoteUser),
		Channels: make(map[string]*chat.Channel),
		Online:   make(map[string]bool),
		now:      time.Now,
	}
}

func (p *Provider) UpsertUser(_ context.Context, user chat.RemoteUser) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.UpsertErr != nil {
		return p.UpsertErr
	}
	p.Users[user.ID] = user
	return nil
}

func (p *Provider) CreateToken(userID string) (string, error) {
	if p.TokenErr != nil {
		return "", p.TokenErr
	}
	return "chat-token-" + userID, nil
}

func (p *Provider) CreateChannel(_ context.Context, _, channelID, _ string, members []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ChannelErr != nil {
		return p.ChannelErr
	}
	if _, ok := p.Channels[channelID]; !ok {
		p.Channels[channelID] = &chat.Channel{ID: channelID}
	}
	p.addMembersLocked(channelID, members)
	return nil
}

func (p *Provider) AddMembers(_ context.Context, _, channelID string, members []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ChannelErr != nil {
		return p.ChannelErr
	}
	if _, ok := p.Channels[channelID]; !ok {
		p.Channels[channelID] = &chat.Channel{ID: channelID}
	}
	p.addMembersLocked(channelID, members)
	return nil
}

func (p *Provider) addMembersLocked(channelID string, members []string) {
	ch := p.Channels[channelID]
	for _, m := range members {
		present := false
		for _, existing := range ch.Members {
			if existing == m {
				present = true
				break
			}
		}
		if !present {
			ch.Members = append(ch.Members, m)
		}
	}
}

func (p *Provider) SendMessage(_ context.Context, channelType, channelID string, message chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return p.SendErr
	}
	p.Messages = append(p.Messages, SentMessage{ChannelType: channelType, ChannelID: channelID, Message: message})
	if ch, ok := p.Channels[channelID]; ok {
		at := p.now()
		ch.LastMessage = message.Text
		ch.LastMessageAt = &at
	}
	return nil
}

func (p *Provider) QueryChannels(_ context.Context, _, memberID string, limit int) ([]chat.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.QueryErr != nil {
		return nil, p.QueryErr
	}
	var out []chat.Channel
	for _, ch := range p.Channels {
		for _, m := range ch.Members {
			if m == memberID {
				copied := *ch
				copied.Members = append([]string(nil), ch.Members...)
				out = append(out, copied)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lastActive(out[i]).After(lastActive(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *Provider) QueryPresence(_ context.Context, userIDs []string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PresenceErr != nil {
		return nil, p.PresenceErr
	}
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		out[id] = p.Online[id]
	}
	return out, nil
}

// SetLastMessage overrides a channel's last activity.
func (p *Provider) SetLastMessage(channelID, text string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.Channels[channelID]; ok {
		ch.LastMessage = text
		ch.LastMessageAt = &at
	}
}

func lastActive(ch chat.Channel) time.Time {
	if ch.LastMessageAt == nil {
		return time.Time{}
	}
	return *ch.LastMessageAt
}

var _ chat.Provider = (*Provider)(nil)
