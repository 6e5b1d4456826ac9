// Command chatmerge merges the live chat of a YouTube broadcast and a Twitch
// channel into one stream.
// It:
//   - Loads configuration and initializes structured logging.
//   - Keeps platform sessions in memory, or in Postgres when DB_DSN is set.
//   - Polls YouTube live chat and subscribes to Twitch chat once authorized.
//   - Optionally refreshes OAuth tokens in the background (OAUTH_REFRESH=1).
//   - Serves the OAuth flows, /chat, /chat/ws, the viewer page, /healthz,
//     /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatmerge/chat"
	"github.com/onnwee/chatmerge/config"
	"github.com/onnwee/chatmerge/db"
	"github.com/onnwee/chatmerge/oauth"
	"github.com/onnwee/chatmerge/server"
	"github.com/onnwee/chatmerge/session"
	"github.com/onnwee/chatmerge/telemetry"
	"github.com/onnwee/chatmerge/twitchapi"
	"github.com/onnwee/chatmerge/youtubeapi"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	sessionStore := "memory"
	if cfg.Persistent() {
		sessionStore = "postgres"
	}
	shutdown, err := telemetry.InitTracing(telemetry.TracingOptions{
		ServiceVersion:     version,
		SessionStore:       sessionStore,
		YouTubeIncremental: cfg.YTIncremental,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, restored, closeStore, err := openSessions(ctx, cfg)
	if err != nil {
		slog.Error("session store init failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()

	agg := chat.NewAggregator(cfg.ChatBufferLimit)
	sup := chat.NewSupervisor(ctx, agg)

	ytSvc := youtubeapi.New(cfg, store)
	liveChat := func(ctx context.Context) (string, bool) {
		st, err := store.Get(ctx, chat.YouTubePlatform)
		if err != nil || !st.Credentials.Valid() || st.LiveChatID == "" {
			return "", false
		}
		return st.LiveChatID, true
	}
	sup.Run(chat.NewYouTubeConnector(ytSvc, liveChat,
		chat.WithPollInterval(cfg.YTPollInterval),
		chat.WithIncremental(cfg.YTIncremental),
	))

	twOAuth := &twitchapi.OAuthClient{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		Scopes:       cfg.TwitchScopes,
	}
	startTwitch := func(st session.State) {
		if st.Channel == "" {
			return
		}
		sup.Run(chat.NewTwitchConnector(st.Channel))
	}
	for _, p := range restored {
		if p != chat.TwitchPlatform {
			continue
		}
		if st, err := store.Get(ctx, p); err == nil {
			slog.Info("resuming twitch chat from stored session", slog.String("channel", st.Channel))
			startTwitch(st)
		}
	}

	if cfg.OAuthRefresh {
		oauth.StartRefresher(ctx, store, chat.TwitchPlatform, 5*time.Minute, 15*time.Minute, func(rctx context.Context, creds session.Credentials) (session.Credentials, error) {
			res, err := twOAuth.Refresh(rctx, creds.RefreshToken)
			if err != nil {
				return session.Credentials{}, err
			}
			return session.Credentials{
				AccessToken:  res.AccessToken,
				RefreshToken: res.RefreshToken,
				Expiry:       twitchapi.ComputeExpiry(res.ExpiresIn),
				Scope:        strings.Join(res.Scope, " "),
			}, nil
		}, nil)
		oauth.StartRefresher(ctx, store, chat.YouTubePlatform, 10*time.Minute, 20*time.Minute, ytSvc.Refresh, nil)
	}

	startPprof()

	deps := server.Deps{
		Aggregator:      agg,
		Sessions:        store,
		YouTube:         ytSvc,
		TwitchOAuth:     twOAuth,
		TwitchUsers:     &twitchapi.HelixClient{ClientID: cfg.TwitchClientID},
		OnTwitchSession: startTwitch,
	}
	if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
		slog.Error("http server exited with error", slog.Any("err", err))
		stop()
	}

	<-ctx.Done()
	slog.Info("shutting down")
	sup.Wait()
}

// setupLogging configures level and format. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openSessions returns the session store. Without DB_DSN sessions live in
// memory only and are lost on restart.
func openSessions(ctx context.Context, cfg *config.Config) (session.Store, []chat.Platform, func(), error) {
	if !cfg.Persistent() {
		slog.Info("sessions kept in memory (DB_DSN not set)")
		return session.NewMemory(), nil, func() {}, nil
	}
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database); err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	tokens, err := db.NewTokenStore(database, cfg.EncryptionKey)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	store := session.NewPersistent(tokens)
	restored, err := store.Restore(ctx)
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	slog.Info("sessions restored", slog.Int("count", len(restored)))
	return store, restored, closeDB, nil
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
