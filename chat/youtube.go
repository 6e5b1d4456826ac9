package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatmerge/telemetry"
)

// DefaultYouTubePollInterval is the delay between live chat list calls.
const DefaultYouTubePollInterval = 2 * time.Second

// LiveChatItem is one platform-native YouTube chat entry.
type LiveChatItem struct {
	ID     string
	Author string
	Text   string
}

// LiveChatPage is a single liveChatMessages.list response.
type LiveChatPage struct {
	Items         []LiveChatItem
	NextPageToken string
}

// LiveChatLister lists the messages of a YouTube live chat. An empty
// pageToken returns the currently visible window.
type LiveChatLister interface {
	ListLiveChatMessages(ctx context.Context, liveChatID, pageToken string) (LiveChatPage, error)
}

// LiveChatSource returns the live chat id to poll, or ok=false when there is
// no authenticated session or no active broadcast.
type LiveChatSource func(ctx context.Context) (liveChatID string, ok bool)

// YouTubeConnector polls a live chat on a fixed interval. By default every
// tick re-lists the visible window and emits all of it; with incremental mode
// it follows nextPageToken and emits only entries it has not seen.
type YouTubeConnector struct {
	api         LiveChatLister
	source      LiveChatSource
	interval    time.Duration
	incremental bool
	clock       clockwork.Clock

	mu      sync.RWMutex
	handler func(ChatMessage)

	// cursor state, touched only by the polling goroutine
	cursorChat string
	cursor     string
}

// YouTubeOption configures a YouTubeConnector.
type YouTubeOption func(*YouTubeConnector)

// WithPollInterval overrides DefaultYouTubePollInterval.
func WithPollInterval(d time.Duration) YouTubeOption {
	return func(c *YouTubeConnector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithIncremental enables page-token tracking.
func WithIncremental(on bool) YouTubeOption {
	return func(c *YouTubeConnector) { c.incremental = on }
}

// WithClock substitutes the clock driving the poll ticker.
func WithClock(clock clockwork.Clock) YouTubeOption {
	return func(c *YouTubeConnector) { c.clock = clock }
}

// NewYouTubeConnector returns a poller reading chat ids from source.
func NewYouTubeConnector(api LiveChatLister, source LiveChatSource, opts ...YouTubeOption) *YouTubeConnector {
	c := &YouTubeConnector{
		api:      api,
		source:   source,
		interval: DefaultYouTubePollInterval,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *YouTubeConnector) Platform() Platform { return YouTubePlatform }

func (c *YouTubeConnector) OnMessage(fn func(ChatMessage)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Start polls until ctx is cancelled. The first poll happens one interval
// after Start.
func (c *YouTubeConnector) Start(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()
	slog.Info("youtube chat: started poller", slog.Duration("interval", c.interval), slog.Bool("incremental", c.incremental))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			c.poll(ctx)
		}
	}
}

func (c *YouTubeConnector) poll(ctx context.Context) {
	chatID, ok := c.source(ctx)
	if !ok || chatID == "" {
		return
	}
	telemetry.IncPolls()

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerYouTube, "liveChatMessages.list", telemetry.PlatformAttr(YouTubePlatform.String()))
	defer span.End()

	if chatID != c.cursorChat {
		c.cursorChat = chatID
		c.cursor = ""
	}
	token := ""
	if c.incremental {
		token = c.cursor
	}

	var page LiveChatPage
	var err error
	telemetry.TimeFunc(telemetry.PollDuration, func() {
		page, err = c.api.ListLiveChatMessages(ctx, chatID, token)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.IncPollError(YouTubePlatform.String())
		slog.Warn("youtube chat: list messages failed", slog.String("live_chat_id", chatID), slog.Any("err", err))
		return
	}
	if c.incremental && page.NextPageToken != "" {
		c.cursor = page.NextPageToken
	}

	c.mu.RLock()
	fn := c.handler
	c.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, it := range page.Items {
		fn(NewMessage(YouTubePlatform, it.Author, it.Text))
	}
	telemetry.SetSpanSuccess(span)
}
