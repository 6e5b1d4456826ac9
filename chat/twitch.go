package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatmerge/telemetry"
)

// ircClient is the subset of *twitch.Client the connector drives.
type ircClient interface {
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
	OnConnect(callback func())
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// TwitchConnector joins the authenticated user's channel over Twitch IRC as
// a read-only anonymous client and forwards every chat line as it arrives,
// including the broadcaster's own. Reconnects are left to go-twitch-irc and
// do not depend on the user token staying valid.
type TwitchConnector struct {
	channel string

	newClient func() ircClient

	mu      sync.RWMutex
	handler func(ChatMessage)
}

// NewTwitchConnector builds a connector for channel, the login resolved
// during the OAuth callback.
func NewTwitchConnector(channel string) *TwitchConnector {
	return &TwitchConnector{
		channel: strings.ToLower(channel),
		newClient: func() ircClient {
			return twitch.NewAnonymousClient()
		},
	}
}

func (c *TwitchConnector) Platform() Platform { return TwitchPlatform }

func (c *TwitchConnector) OnMessage(fn func(ChatMessage)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Start connects and blocks until ctx is cancelled or the connection fails.
func (c *TwitchConnector) Start(ctx context.Context) error {
	if c.channel == "" {
		return errors.New("twitch connector: missing channel")
	}
	client := c.newClient()
	client.OnPrivateMessage(c.handle)
	client.OnConnect(func() {
		slog.Info("twitch chat: connected", slog.String("channel", c.channel))
	})
	client.Join(c.channel)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := client.Disconnect(); err != nil {
				slog.Debug("twitch chat: disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()

	err := client.Connect()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		telemetry.IncPollError(TwitchPlatform.String())
		return err
	}
	return nil
}

func (c *TwitchConnector) handle(msg twitch.PrivateMessage) {
	author := msg.User.DisplayName
	if author == "" {
		author = msg.User.Name
	}
	c.mu.RLock()
	fn := c.handler
	c.mu.RUnlock()
	if fn != nil {
		fn(NewMessage(TwitchPlatform, author, msg.Message))
	}
}
