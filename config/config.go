// Package config loads environment variables and provides a typed Config used across the service.
// An optional YAML file (CONFIG_FILE) supplies values; non-empty environment variables win.
// Required OAuth credentials are checked by Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPublicURL is where the OAuth providers redirect back to.
const DefaultPublicURL = "http://localhost:3000"

type Config struct {
	// HTTP
	HTTPAddr  string
	PublicURL string

	// YouTube OAuth
	YTClientID     string
	YTClientSecret string
	YTRedirectURI  string
	YTScopes       string

	// Twitch OAuth
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Chat
	YTPollInterval  time.Duration
	YTIncremental   bool
	ChatBufferLimit int

	// Session persistence
	DBDsn         string
	EncryptionKey string
	OAuthRefresh  bool
}

// fileValues mirrors the env var names so a YAML file can set any of them.
type fileValues map[string]string

// Load reads CONFIG_FILE (if set) and the environment and applies defaults.
// It does not fail on missing credentials; call Validate for that.
func Load() (*Config, error) {
	file := fileValues{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(b, &file); err != nil {
			return nil, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
		}
	}
	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return file[key]
	}

	cfg := &Config{}

	cfg.HTTPAddr = get("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":3000"
	}
	cfg.PublicURL = strings.TrimRight(get("PUBLIC_URL"), "/")
	if cfg.PublicURL == "" {
		cfg.PublicURL = DefaultPublicURL
	}

	// YouTube
	cfg.YTClientID = get("YT_CLIENT_ID")
	cfg.YTClientSecret = get("YT_CLIENT_SECRET")
	cfg.YTRedirectURI = get("YT_REDIRECT_URI")
	if cfg.YTRedirectURI == "" {
		cfg.YTRedirectURI = cfg.PublicURL + "/oauth2callback"
	}
	cfg.YTScopes = get("YT_SCOPES")
	if cfg.YTScopes == "" {
		cfg.YTScopes = "https://www.googleapis.com/auth/youtube.readonly"
	}

	// Twitch
	cfg.TwitchClientID = get("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = get("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = get("TWITCH_REDIRECT_URI")
	if cfg.TwitchRedirectURI == "" {
		cfg.TwitchRedirectURI = cfg.PublicURL + "/twitch/callback"
	}
	cfg.TwitchScopes = get("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		cfg.TwitchScopes = "chat:read"
	}

	// Chat
	cfg.YTPollInterval = 2 * time.Second
	if v := get("YT_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid YT_POLL_INTERVAL %q (duration > 0)", v)
		}
		cfg.YTPollInterval = d
	}
	cfg.YTIncremental = truthy(get("YT_INCREMENTAL"))
	if v := get("CHAT_BUFFER_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid CHAT_BUFFER_LIMIT %q (integer >= 0)", v)
		}
		cfg.ChatBufferLimit = n
	}

	// Persistence
	cfg.DBDsn = get("DB_DSN")
	cfg.EncryptionKey = get("ENCRYPTION_KEY")
	cfg.OAuthRefresh = truthy(get("OAUTH_REFRESH"))

	return cfg, nil
}

// Validate checks the OAuth client credentials both platforms require.
func (c *Config) Validate() error {
	var missing []string
	for _, kv := range []struct{ key, val string }{
		{"YT_CLIENT_ID", c.YTClientID},
		{"YT_CLIENT_SECRET", c.YTClientSecret},
		{"TWITCH_CLIENT_ID", c.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", c.TwitchClientSecret},
	} {
		if kv.val == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required env: " + strings.Join(missing, ", "))
	}
	return nil
}

// Persistent reports whether sessions are written through to Postgres.
func (c *Config) Persistent() bool { return c.DBDsn != "" }

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
