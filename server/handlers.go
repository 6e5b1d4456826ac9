package server

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/chatmerge/chat"
	"github.com/onnwee/chatmerge/session"
	"github.com/onnwee/chatmerge/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	stateTTL       = 10 * time.Minute
)

// YouTubeAuth is the YouTube side of the OAuth flow.
type YouTubeAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (session.Credentials, error)
	ActiveLiveChatID(ctx context.Context, creds session.Credentials) (string, error)
}

// TwitchAuth is the Twitch side of the OAuth flow.
type TwitchAuth interface {
	AuthorizeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*twitchapi.TokenResult, error)
}

// TwitchUsers resolves the channel an access token belongs to.
type TwitchUsers interface {
	GetAuthenticatedUser(ctx context.Context, accessToken string) (*twitchapi.User, error)
}

// Deps are the collaborators the HTTP handlers use.
type Deps struct {
	Aggregator  *chat.Aggregator
	Sessions    session.Store
	YouTube     YouTubeAuth
	TwitchOAuth TwitchAuth
	TwitchUsers TwitchUsers
	// OnTwitchSession starts or replaces the Twitch subscription.
	OnTwitchSession func(session.State)
}

type oauthState struct {
	platform chat.Platform
	expiry   time.Time
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	stateStore map[string]oauthState
	stateMu    sync.Mutex
	now        func() time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		deps:       deps,
		stateStore: make(map[string]oauthState),
		now:        time.Now,
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := h.now()
	for state, st := range h.stateStore {
		if now.After(st.expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records state for platform. It reports false when the store
// is full, in which case the flow must not proceed.
func (h *Handlers) addOAuthState(state string, p chat.Platform) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 || len(h.stateStore) >= maxOAuthStates {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = oauthState{platform: p, expiry: h.now().Add(stateTTL)}
	return true
}

// consumeState removes state and reports whether it was issued for p and
// has not expired. States are single use.
func (h *Handlers) consumeState(state string, p chat.Platform) bool {
	if state == "" {
		return false
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	st, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return st.platform == p && !h.now().After(st.expiry)
}
