package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onnwee/chatmerge/chat"
	"github.com/onnwee/chatmerge/session"
)

// HandleHealthz is the liveness check.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// HandleReadyz reports ready when the session store is reachable.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if p, ok := h.deps.Sessions.(session.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": "session_store",
				"error":        err.Error(),
			})
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

type youtubeStatus struct {
	Authenticated     bool `json:"authenticated"`
	LiveChatIDPresent bool `json:"live_chat_id_present"`
}

type twitchStatus struct {
	Authenticated bool   `json:"authenticated"`
	Channel       string `json:"channel"`
}

type statusResponse struct {
	YouTube  youtubeStatus `json:"youtube"`
	Twitch   twitchStatus  `json:"twitch"`
	Messages int           `json:"messages"`
}

// HandleStatus summarizes both sessions and the buffer size. Tokens are
// never included.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var out statusResponse

	yt, err := h.deps.Sessions.Get(ctx, chat.YouTubePlatform)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out.YouTube = youtubeStatus{Authenticated: yt.Credentials.Valid(), LiveChatIDPresent: yt.LiveChatID != ""}

	tw, err := h.deps.Sessions.Get(ctx, chat.TwitchPlatform)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out.Twitch = twitchStatus{Authenticated: tw.Credentials.Valid(), Channel: tw.Channel}
	out.Messages = h.deps.Aggregator.Len()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
