package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/onnwee/chatmerge/chat"
)

func TestOAuthStateStore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := NewHandlers(Deps{})
	h.now = func() time.Time { return now }

	tests := []struct {
		name    string
		issue   chat.Platform
		consume chat.Platform
		advance time.Duration
		want    bool
	}{
		{"same platform", chat.YouTubePlatform, chat.YouTubePlatform, 0, true},
		{"other platform", chat.TwitchPlatform, chat.YouTubePlatform, 0, false},
		{"just before expiry", chat.TwitchPlatform, chat.TwitchPlatform, stateTTL, true},
		{"expired", chat.YouTubePlatform, chat.YouTubePlatform, stateTTL + time.Second, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := fmt.Sprintf("state-%d", i)
			if !h.addOAuthState(state, tt.issue) {
				t.Fatal("addOAuthState() = false")
			}
			now = now.Add(tt.advance)
			if got := h.consumeState(state, tt.consume); got != tt.want {
				t.Errorf("consumeState() = %v, want %v", got, tt.want)
			}
			if h.consumeState(state, tt.consume) {
				t.Error("state accepted twice")
			}
		})
	}
	if h.consumeState("", chat.YouTubePlatform) {
		t.Error("empty state accepted")
	}
}

func TestOAuthStateStore_Full(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := NewHandlers(Deps{})
	h.now = func() time.Time { return now }
	for i := 0; i < maxOAuthStates; i++ {
		h.stateStore[fmt.Sprintf("s%d", i)] = oauthState{platform: chat.TwitchPlatform, expiry: now.Add(stateTTL)}
	}
	if h.addOAuthState("overflow", chat.TwitchPlatform) {
		t.Fatal("store accepted a state beyond capacity")
	}

	now = now.Add(stateTTL + time.Second)
	if !h.addOAuthState("after-expiry", chat.TwitchPlatform) {
		t.Error("expired states were not swept to free capacity")
	}
}
