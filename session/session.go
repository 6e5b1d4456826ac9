// Package session holds the per-platform authentication state: OAuth
// credentials plus the live identifiers (YouTube live chat id, Twitch channel)
// the connectors need. State is in memory by default; Persistent writes the
// credentials through to a TokenStore so they survive restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/onnwee/chatmerge/chat"
)

// ErrNotFound is returned by Get when no state exists for a platform.
var ErrNotFound = errors.New("session not found")

// Credentials are the OAuth artifacts obtained from a platform callback.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// Valid reports whether an access token is present.
func (c Credentials) Valid() bool { return c.AccessToken != "" }

// State is the session of one platform.
type State struct {
	Platform    chat.Platform
	Credentials Credentials
	// LiveChatID is the active YouTube broadcast chat, empty when none was found.
	LiveChatID string
	// Channel is the authenticated Twitch login.
	Channel   string
	UpdatedAt time.Time
}

// Store reads and replaces platform sessions.
type Store interface {
	Get(ctx context.Context, p chat.Platform) (State, error)
	Put(ctx context.Context, st State) error
}

// Memory is the in-process Store.
type Memory struct {
	mu     sync.RWMutex
	states map[chat.Platform]State
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[chat.Platform]State)}
}

func (m *Memory) Get(_ context.Context, p chat.Platform) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[p]
	if !ok {
		return State{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) Put(_ context.Context, st State) error {
	if !st.Platform.Valid() {
		return fmt.Errorf("put session: %w", chat.ErrUnknownPlatform)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.states[st.Platform] = st
	m.mu.Unlock()
	return nil
}

// TokenStore persists provider tokens. raw carries the JSON-encoded
// non-secret session fields alongside the tokens.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

// Pinger is implemented by stores backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Persistent is a Memory store that writes every Put through to a TokenStore.
type Persistent struct {
	mem    *Memory
	tokens TokenStore
}

// NewPersistent wraps tokens. Call Restore to load previously stored sessions.
func NewPersistent(tokens TokenStore) *Persistent {
	return &Persistent{mem: NewMemory(), tokens: tokens}
}

type persistedFields struct {
	Scope      string `json:"scope,omitempty"`
	LiveChatID string `json:"live_chat_id,omitempty"`
	Channel    string `json:"channel,omitempty"`
}

func provider(p chat.Platform) string {
	switch p {
	case chat.YouTubePlatform:
		return "youtube"
	case chat.TwitchPlatform:
		return "twitch"
	}
	return ""
}

func (s *Persistent) Get(ctx context.Context, p chat.Platform) (State, error) {
	return s.mem.Get(ctx, p)
}

func (s *Persistent) Put(ctx context.Context, st State) error {
	if err := s.mem.Put(ctx, st); err != nil {
		return err
	}
	raw, err := json.Marshal(persistedFields{Scope: st.Credentials.Scope, LiveChatID: st.LiveChatID, Channel: st.Channel})
	if err != nil {
		return fmt.Errorf("encode session fields: %w", err)
	}
	c := st.Credentials
	if err := s.tokens.UpsertOAuthToken(ctx, provider(st.Platform), c.AccessToken, c.RefreshToken, c.Expiry, string(raw)); err != nil {
		return fmt.Errorf("persist %s session: %w", st.Platform, err)
	}
	return nil
}

// Restore loads stored sessions into memory and returns the platforms found.
func (s *Persistent) Restore(ctx context.Context) ([]chat.Platform, error) {
	var found []chat.Platform
	for _, p := range []chat.Platform{chat.YouTubePlatform, chat.TwitchPlatform} {
		access, refresh, expiry, raw, err := s.tokens.GetOAuthToken(ctx, provider(p))
		if err != nil {
			return found, fmt.Errorf("restore %s session: %w", p, err)
		}
		if access == "" {
			continue
		}
		var f persistedFields
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &f); err != nil {
				return found, fmt.Errorf("decode %s session fields: %w", p, err)
			}
		}
		st := State{
			Platform:    p,
			Credentials: Credentials{AccessToken: access, RefreshToken: refresh, Expiry: expiry, Scope: f.Scope},
			LiveChatID:  f.LiveChatID,
			Channel:     f.Channel,
		}
		if err := s.mem.Put(ctx, st); err != nil {
			return found, err
		}
		found = append(found, p)
	}
	return found, nil
}

// Ping checks the backing TokenStore when it supports it.
func (s *Persistent) Ping(ctx context.Context) error {
	if p, ok := s.tokens.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
