package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/chatmerge/chat"
)

// mockTokenStore implements TokenStore for testing
type mockTokenStore struct {
	tokens map[string]tokenData
	err    error
}

type tokenData struct {
	access  string
	refresh string
	expiry  time.Time
	raw     string
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[string]tokenData)}
}

func (m *mockTokenStore) UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error {
	if m.err != nil {
		return m.err
	}
	m.tokens[provider] = tokenData{access: accessToken, refresh: refreshToken, expiry: expiry, raw: raw}
	return nil
}

func (m *mockTokenStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	if m.err != nil {
		return "", "", time.Time{}, "", m.err
	}
	d := m.tokens[provider]
	return d.access, d.refresh, d.expiry, d.raw, nil
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), chat.YouTubePlatform)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemory_PutReplaces(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Put(ctx, State{Platform: chat.YouTubePlatform, LiveChatID: "chat-1", Credentials: Credentials{AccessToken: "a1"}}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := m.Put(ctx, State{Platform: chat.YouTubePlatform, LiveChatID: "chat-2", Credentials: Credentials{AccessToken: "a2"}}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	st, err := m.Get(ctx, chat.YouTubePlatform)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if st.LiveChatID != "chat-2" || st.Credentials.AccessToken != "a2" {
		t.Errorf("Get() = %+v, want replaced state", st)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped")
	}
	if _, err := m.Get(ctx, chat.TwitchPlatform); !errors.Is(err, ErrNotFound) {
		t.Errorf("twitch Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemory_PutUnknownPlatform(t *testing.T) {
	err := NewMemory().Put(context.Background(), State{Platform: "Kick"})
	if !errors.Is(err, chat.ErrUnknownPlatform) {
		t.Fatalf("Put() error = %v, want ErrUnknownPlatform", err)
	}
}

func TestCredentialsValid(t *testing.T) {
	if (Credentials{}).Valid() {
		t.Error("empty credentials reported valid")
	}
	if !(Credentials{AccessToken: "x"}).Valid() {
		t.Error("credentials with access token reported invalid")
	}
}

func TestPersistent_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tokens := newMockTokenStore()
	p := NewPersistent(tokens)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err := p.Put(ctx, State{
		Platform:    chat.TwitchPlatform,
		Channel:     "streamer",
		Credentials: Credentials{AccessToken: "tw-access", RefreshToken: "tw-refresh", Expiry: expiry, Scope: "chat:read"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got := tokens.tokens["twitch"].access; got != "tw-access" {
		t.Errorf("persisted access = %q, want tw-access", got)
	}

	restored := NewPersistent(tokens)
	found, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(found) != 1 || found[0] != chat.TwitchPlatform {
		t.Fatalf("Restore() found = %v, want [Twitch]", found)
	}
	st, err := restored.Get(ctx, chat.TwitchPlatform)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if st.Channel != "streamer" || st.Credentials.Scope != "chat:read" || st.Credentials.RefreshToken != "tw-refresh" {
		t.Errorf("restored state = %+v", st)
	}
	if !st.Credentials.Expiry.Equal(expiry) {
		t.Errorf("restored expiry = %v, want %v", st.Credentials.Expiry, expiry)
	}
}

func TestPersistent_PutError(t *testing.T) {
	tokens := newMockTokenStore()
	tokens.err = errors.New("db down")
	p := NewPersistent(tokens)

	err := p.Put(context.Background(), State{Platform: chat.YouTubePlatform, Credentials: Credentials{AccessToken: "a"}})
	if err == nil {
		t.Fatal("Put() expected error")
	}
	if !errors.Is(err, tokens.err) {
		t.Errorf("Put() error = %v, want wrapped db error", err)
	}
}

func TestPersistent_RestoreEmpty(t *testing.T) {
	found, err := NewPersistent(newMockTokenStore()).Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(found) != 0 {
		t.Errorf("Restore() found = %v, want none", found)
	}
}
