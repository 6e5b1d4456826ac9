package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/onnwee/chatmerge/chat"
	"github.com/onnwee/chatmerge/session"
	"github.com/onnwee/chatmerge/telemetry"
	"github.com/onnwee/chatmerge/twitchapi"
	"github.com/onnwee/chatmerge/youtubeapi"
)

const (
	msgYouTubeConnected   = "Connected to YouTube! Live chat found."
	msgYouTubeNoBroadcast = "No active YouTube live broadcast found."
	msgTwitchConnected    = "Connected to Twitch!"
)

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

// newState issues a state token for p, or writes a 503 and returns "".
func (h *Handlers) newState(w http.ResponseWriter, p chat.Platform) string {
	st := uuid.NewString()
	if !h.addOAuthState(st, p) {
		writeText(w, http.StatusServiceUnavailable, "Too many pending authorizations, try again later.")
		return ""
	}
	return st
}

// HandleYouTubeOAuthStart redirects to the Google consent screen.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := h.newState(w, chat.YouTubePlatform)
	if st == "" {
		return
	}
	http.Redirect(w, r, h.deps.YouTube.AuthCodeURL(st), http.StatusFound)
}

// HandleYouTubeOAuthCallback exchanges the code, looks up the active
// broadcast and stores the YouTube session.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	platform := chat.YouTubePlatform.String()
	ctx, span := telemetry.StartSpan(r.Context(), telemetry.TracerOAuth, "oauth.callback", telemetry.PlatformAttr(platform))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "oauth_youtube"))
	outcome := func(result string) {
		telemetry.RecordOAuthCallback(platform, result)
		span.SetAttributes(telemetry.OAuthResultAttr(result))
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		outcome("missing_code")
		writeText(w, http.StatusBadRequest, "Missing YouTube authorization code.")
		return
	}
	if !h.consumeState(r.URL.Query().Get("state"), chat.YouTubePlatform) {
		outcome("invalid_state")
		writeText(w, http.StatusBadRequest, "Invalid or expired OAuth state.")
		return
	}

	creds, err := h.deps.YouTube.Exchange(ctx, code)
	if err != nil {
		logger.Error("youtube code exchange failed", slog.Any("err", err))
		outcome("error")
		writeText(w, http.StatusInternalServerError, "YouTube authentication failed.")
		return
	}

	msg := msgYouTubeConnected
	liveChatID, err := h.deps.YouTube.ActiveLiveChatID(ctx, creds)
	switch {
	case errors.Is(err, youtubeapi.ErrNoActiveBroadcast):
		msg = msgYouTubeNoBroadcast
	case err != nil:
		logger.Error("youtube broadcast lookup failed", slog.Any("err", err))
		outcome("error")
		writeText(w, http.StatusInternalServerError, "YouTube authentication failed.")
		return
	}

	st := session.State{Platform: chat.YouTubePlatform, Credentials: creds, LiveChatID: liveChatID}
	if err := h.deps.Sessions.Put(ctx, st); err != nil {
		logger.Error("store youtube session failed", slog.Any("err", err))
		outcome("error")
		writeText(w, http.StatusInternalServerError, "YouTube authentication failed.")
		return
	}
	logger.Info("youtube session stored", slog.Bool("live_chat_found", liveChatID != ""))
	outcome("ok")
	writeText(w, http.StatusOK, msg)
}

// HandleTwitchOAuthStart redirects to the Twitch authorize page.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := h.newState(w, chat.TwitchPlatform)
	if st == "" {
		return
	}
	authURL, err := h.deps.TwitchOAuth.AuthorizeURL(st)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("build twitch authorize url", slog.Any("err", err))
		writeText(w, http.StatusInternalServerError, "Twitch OAuth is not configured.")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code, resolves the channel, stores
// the Twitch session and (re)starts the chat subscription.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	platform := chat.TwitchPlatform.String()
	ctx, span := telemetry.StartSpan(r.Context(), telemetry.TracerOAuth, "oauth.callback", telemetry.PlatformAttr(platform))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "oauth_twitch"))
	outcome := func(result string) {
		telemetry.RecordOAuthCallback(platform, result)
		span.SetAttributes(telemetry.OAuthResultAttr(result))
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		outcome("missing_code")
		writeText(w, http.StatusBadRequest, "Missing Twitch authorization code.")
		return
	}
	if !h.consumeState(r.URL.Query().Get("state"), chat.TwitchPlatform) {
		outcome("invalid_state")
		writeText(w, http.StatusBadRequest, "Invalid or expired OAuth state.")
		return
	}

	res, err := h.deps.TwitchOAuth.Exchange(ctx, code)
	if err != nil {
		logger.Error("twitch code exchange failed", slog.Any("err", err))
		outcome("error")
		writeText(w, http.StatusInternalServerError, "Twitch authentication failed.")
		return
	}
	user, err := h.deps.TwitchUsers.GetAuthenticatedUser(ctx, res.AccessToken)
	if err != nil {
		logger.Error("twitch user lookup failed", slog.Any("err", err))
		outcome("error")
		writeText(w, http.StatusInternalServerError, "Twitch authentication failed.")
		return
	}

	st := session.State{
		Platform: chat.TwitchPlatform,
		Credentials: session.Credentials{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
			Expiry:       twitchapi.ComputeExpiry(res.ExpiresIn),
			Scope:        strings.Join(res.Scope, " "),
		},
		Channel: strings.ToLower(user.Login),
	}
	if err := h.deps.Sessions.Put(ctx, st); err != nil {
		logger.Error("store twitch session failed", slog.Any("err", err))
		outcome("error")
		writeText(w, http.StatusInternalServerError, "Twitch authentication failed.")
		return
	}
	if h.deps.OnTwitchSession != nil {
		h.deps.OnTwitchSession(st)
	}
	logger.Info("twitch session stored", slog.String("channel", st.Channel))
	outcome("ok")
	writeText(w, http.StatusOK, msgTwitchConnected)
}
