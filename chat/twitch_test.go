package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// fakeIRC stands in for *twitch.Client.
type fakeIRC struct {
	mu         sync.Mutex
	onMsg      func(twitch.PrivateMessage)
	onConnect  func()
	joined     []string
	connectErr error

	connected  chan struct{}
	disconnect chan struct{}
	once       sync.Once
}

func newFakeIRC() *fakeIRC {
	return &fakeIRC{connected: make(chan struct{}), disconnect: make(chan struct{})}
}

func (f *fakeIRC) OnPrivateMessage(cb func(twitch.PrivateMessage)) {
	f.mu.Lock()
	f.onMsg = cb
	f.mu.Unlock()
}

func (f *fakeIRC) OnConnect(cb func()) { f.onConnect = cb }

func (f *fakeIRC) Join(channels ...string) { f.joined = append(f.joined, channels...) }

func (f *fakeIRC) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.onConnect != nil {
		f.onConnect()
	}
	close(f.connected)
	<-f.disconnect
	return twitch.ErrClientDisconnected
}

func (f *fakeIRC) Disconnect() error {
	f.once.Do(func() { close(f.disconnect) })
	return nil
}

func (f *fakeIRC) deliver(msg twitch.PrivateMessage) {
	f.mu.Lock()
	cb := f.onMsg
	f.mu.Unlock()
	cb(msg)
}

func newTestTwitchConnector(fake *fakeIRC) *TwitchConnector {
	c := NewTwitchConnector("Streamer")
	c.newClient = func() ircClient { return fake }
	return c
}

func TestTwitchConnector_ForwardsMessages(t *testing.T) {
	fake := newFakeIRC()
	c := newTestTwitchConnector(fake)
	agg := NewAggregator(0)
	Attach(agg, c)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	select {
	case <-fake.connected:
	case <-time.After(time.Second):
		t.Fatal("connector never connected")
	}

	if len(fake.joined) != 1 || fake.joined[0] != "streamer" {
		t.Errorf("joined = %v, want lowercased [streamer]", fake.joined)
	}

	fake.deliver(twitch.PrivateMessage{User: twitch.User{Name: "viewer1", DisplayName: "Viewer1"}, Message: "hello"})
	fake.deliver(twitch.PrivateMessage{User: twitch.User{Name: "viewer2"}, Message: "no display name"})
	fake.deliver(twitch.PrivateMessage{User: twitch.User{}, Message: "anonymous"})
	fake.deliver(twitch.PrivateMessage{User: twitch.User{Name: "streamer", DisplayName: "Streamer"}, Message: "welcome everyone"})

	want := []ChatMessage{
		{Platform: TwitchPlatform, Author: "Viewer1", Message: "hello"},
		{Platform: TwitchPlatform, Author: "viewer2", Message: "no display name"},
		{Platform: TwitchPlatform, Author: AnonymousAuthor, Message: "anonymous"},
		{Platform: TwitchPlatform, Author: "Streamer", Message: "welcome everyone"},
	}
	got := agg.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestTwitchConnector_ConnectError(t *testing.T) {
	fake := newFakeIRC()
	fake.connectErr = errors.New("login authentication failed")
	c := newTestTwitchConnector(fake)

	err := c.Start(context.Background())
	if err == nil || err.Error() != "login authentication failed" {
		t.Fatalf("Start() error = %v, want connect error", err)
	}
}

func TestTwitchConnector_MissingChannel(t *testing.T) {
	c := NewTwitchConnector("")
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start() expected error for missing channel")
	}
}

func TestTwitchConnector_DefaultClientIsAnonymous(t *testing.T) {
	c := NewTwitchConnector("streamer")
	client, ok := c.newClient().(*twitch.Client)
	if !ok {
		t.Fatalf("newClient() = %T, want *twitch.Client", c.newClient())
	}
	if client == nil {
		t.Fatal("newClient() returned nil")
	}
}
