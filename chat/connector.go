package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultStopTimeout bounds how long Run waits for a replaced connector.
const DefaultStopTimeout = 5 * time.Second

// Connector bridges one chat platform to ChatMessage. Pull-based connectors
// synthesize OnMessage callbacks from their own timer; push-based ones
// forward subscription events. Start blocks until ctx is cancelled or the
// underlying connection fails permanently.
type Connector interface {
	Platform() Platform
	OnMessage(fn func(ChatMessage))
	Start(ctx context.Context) error
}

// Attach routes every message c emits into agg.
func Attach(agg *Aggregator, c Connector) {
	attach(agg, c, nil)
}

// attach is Attach with an optional mute flag; once muted, emitted messages
// are discarded.
func attach(agg *Aggregator, c Connector, muted *atomic.Bool) {
	c.OnMessage(func(msg ChatMessage) {
		if muted != nil && muted.Load() {
			return
		}
		if err := agg.Append(msg); err != nil {
			slog.Warn("chat: append rejected", slog.String("platform", c.Platform().String()), slog.Any("err", err))
		}
	})
}

// Supervisor runs at most one connector per platform. Replacing a running
// connector cancels the previous one first, so a repeated OAuth callback
// never yields two feeds for the same platform.
type Supervisor struct {
	ctx         context.Context
	agg         *Aggregator
	stopTimeout time.Duration

	runMu   sync.Mutex // serializes Run
	mu      sync.Mutex // guards running
	running map[Platform]*runningConnector
	wg      sync.WaitGroup
}

type runningConnector struct {
	cancel context.CancelFunc
	done   chan struct{}
	muted  atomic.Bool
}

// NewSupervisor returns a supervisor whose connectors live no longer than ctx.
func NewSupervisor(ctx context.Context, agg *Aggregator) *Supervisor {
	return &Supervisor{ctx: ctx, agg: agg, stopTimeout: DefaultStopTimeout, running: make(map[Platform]*runningConnector)}
}

// Run attaches c to the aggregator and starts it in its own goroutine,
// stopping any connector already running for the same platform.
// The previous connector is muted at once and waited for at most
// stopTimeout; Running is never blocked by that wait.
func (s *Supervisor) Run(c Connector) {
	p := c.Platform()
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	prev := s.running[p]
	s.mu.Unlock()
	if prev != nil {
		prev.muted.Store(true)
		prev.cancel()
		select {
		case <-prev.done:
		case <-time.After(s.stopTimeout):
			slog.Warn("chat: previous connector slow to stop, starting replacement", slog.String("platform", p.String()), slog.Duration("waited", s.stopTimeout))
		}
		slog.Info("chat: replaced running connector", slog.String("platform", p.String()))
	}

	ctx, cancel := context.WithCancel(s.ctx)
	rc := &runningConnector{cancel: cancel, done: make(chan struct{})}
	attach(s.agg, c, &rc.muted)
	s.mu.Lock()
	s.running[p] = rc
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(rc.done)
		if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("chat: connector stopped", slog.String("platform", p.String()), slog.Any("err", err))
		}
	}()
}

// Running reports whether a connector for p has been started and not yet exited.
func (s *Supervisor) Running(p Platform) bool {
	s.mu.Lock()
	rc, ok := s.running[p]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-rc.done:
		return false
	default:
		return true
	}
}

// Wait blocks until every started connector has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
