package stream

import (
	"testing"
	"time"

	stream "github.com/GetStream/stream-chat-go/v5"
)

func TestToChannel(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ch := &stream.Channel{
		ID: "a-b",
		Members: []*stream.ChannelMember{
			{UserID: "a"},
			{User: &stream.User{ID: "b"}},
			{},
		},
		Messages: []*stream.Message{
			{Text: "first"},
			{Text: "last"},
		},
		LastMessageAt: at,
	}

	got := toChannel(ch)
	if got.ID != "a-b" {
		t.Fatalf("unexpected id %q", got.ID)
	}
	if len(got.Members) != 2 || got.Members[0] != "a" || got.Members[1] != "b" {
		t.Fatalf("unexpected members %v", got.Members)
	}
	if got.LastMessage != "last" {
		t.Fatalf("expected last message text, got %q", got.LastMessage)
	}
	if got.LastMessageAt == nil || !got.LastMessageAt.Equal(at) {
		t.Fatalf("unexpected last message time %v", got.LastMessageAt)
	}
}

func TestToChannelWithoutActivity(t *testing.T) {
	got := toChannel(&stream.Channel{ID: "x-y"})
	if got.LastMessage != "" || got.LastMessageAt != nil {
		t.Fatalf("expected empty activity, got %+v", got)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
