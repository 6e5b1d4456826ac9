package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockPlatformServer serves canned Twitch and Google responses keyed by path.
// Point clients at it with RewriteTransport (Twitch, fixed hosts) or an
// endpoint override (YouTube Data API, Google token URL).
type MockPlatformServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockPlatformServer creates a mock server closed on test cleanup.
func NewMockPlatformServer(t *testing.T) *MockPlatformServer {
	t.Helper()
	m := &MockPlatformServer{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.handlers[r.URL.Path]
		m.hits[r.URL.Path]++
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for path.
func (m *MockPlatformServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.handlers[path] = h
	m.mu.Unlock()
}

// Hits returns how many requests reached path.
func (m *MockPlatformServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// JSON registers path to answer status with body encoded as JSON.
func (m *MockPlatformServer) JSON(path string, status int, body interface{}) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	})
}

// MockTwitchToken answers the Twitch token endpoint.
func (m *MockPlatformServer) MockTwitchToken(accessToken, refreshToken string, expiresIn int) {
	m.JSON("/oauth2/token", http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    expiresIn,
		"scope":         []string{"chat:read"},
		"token_type":    "bearer",
	})
}

// MockTwitchUser answers /helix/users with a single user.
func (m *MockPlatformServer) MockTwitchUser(userID, login string) {
	m.JSON("/helix/users", http.StatusOK, map[string]interface{}{
		"data": []map[string]string{
			{"id": userID, "login": login, "display_name": login},
		},
	})
}

// MockGoogleToken answers the Google token endpoint served at /token.
func (m *MockPlatformServer) MockGoogleToken(accessToken, refreshToken string) {
	m.JSON("/token", http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    3600,
		"token_type":    "Bearer",
	})
}

// MockLiveBroadcast answers the broadcast list; an empty liveChatID means no
// active broadcast.
func (m *MockPlatformServer) MockLiveBroadcast(liveChatID string) {
	items := []map[string]interface{}{}
	if liveChatID != "" {
		items = append(items, map[string]interface{}{
			"id":      "broadcast-1",
			"snippet": map[string]string{"liveChatId": liveChatID},
		})
	}
	m.JSON("/youtube/v3/liveBroadcasts", http.StatusOK, map[string]interface{}{"items": items})
}

// RewriteTransport sends every request to the host of a test server.
type RewriteTransport struct {
	Transport http.RoundTripper
	Host      string
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	host := strings.TrimPrefix(t.Host, "http://")
	req.URL.Host = strings.TrimPrefix(host, "https://")
	rt := t.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(req)
}

// RoutedClient returns an http.Client whose requests all reach m.
func (m *MockPlatformServer) RoutedClient() *http.Client {
	return &http.Client{Transport: &RewriteTransport{Host: m.URL}}
}
