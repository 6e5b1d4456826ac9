// Package server exposes the HTTP surface: the OAuth entry points and
// callbacks for both platforms, the merged chat as JSON, a websocket feed and
// an HTML viewer, plus health, status and metrics. Every response carries a
// correlation id.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(deps Deps) http.Handler {
	handlers := NewHandlers(deps)
	corsCfg := loadCORSConfig()
	limiter := newIPRateLimiter(loadRateLimiterConfig())

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	// OAuth endpoints
	mux.HandleFunc("/auth/youtube", rateLimitMiddleware(handlers.HandleYouTubeOAuthStart, limiter))
	mux.HandleFunc("/oauth2callback", rateLimitMiddleware(handlers.HandleYouTubeOAuthCallback, limiter))
	mux.HandleFunc("/auth/twitch", rateLimitMiddleware(handlers.HandleTwitchOAuthStart, limiter))
	mux.HandleFunc("/twitch/callback", rateLimitMiddleware(handlers.HandleTwitchOAuthCallback, limiter))

	// Chat
	mux.HandleFunc("/chat", handlers.HandleChat)
	mux.HandleFunc("/chat/ws", handlers.HandleChatWS)
	mux.HandleFunc("/", handlers.HandleViewer)

	// Health and status
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)

	return withCORSConfig(withObservability(mux), corsCfg)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
