package chat

import (
	"fmt"
	"sync"

	"github.com/onnwee/chatmerge/telemetry"
)

// Aggregator owns the merged message buffer. Appends from any number of
// connectors are serialized by mu; Snapshot never observes a partial record.
type Aggregator struct {
	mu    sync.RWMutex
	buf   []ChatMessage
	limit int

	subMu  sync.Mutex
	subs   map[int]chan ChatMessage
	nextID int
}

// NewAggregator returns an empty aggregator. limit <= 0 keeps every message
// for the lifetime of the process; limit > 0 retains only the newest limit
// messages.
func NewAggregator(limit int) *Aggregator {
	if limit < 0 {
		limit = 0
	}
	return &Aggregator{limit: limit, subs: make(map[int]chan ChatMessage)}
}

// Append adds msg to the end of the buffer and fans it out to live subscribers.
func (a *Aggregator) Append(msg ChatMessage) error {
	if !msg.Platform.Valid() {
		return fmt.Errorf("append %q: %w", msg.Platform, ErrUnknownPlatform)
	}

	a.mu.Lock()
	a.buf = append(a.buf, msg)
	if a.limit > 0 && len(a.buf) >= 2*a.limit {
		// Compact in amortized batches so the dropped prefix can be collected.
		kept := make([]ChatMessage, a.limit, 2*a.limit)
		copy(kept, a.buf[len(a.buf)-a.limit:])
		a.buf = kept
	}
	n := len(a.window())
	// Publish under the write lock so subscribers see buffer order.
	a.publish(msg)
	a.mu.Unlock()

	telemetry.IncMessages(msg.Platform.String())
	telemetry.SetBufferSize(n)
	return nil
}

// Snapshot returns a copy of the buffer in insertion order. It is never nil.
func (a *Aggregator) Snapshot() []ChatMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	w := a.window()
	out := make([]ChatMessage, len(w))
	copy(out, w)
	return out
}

// Len returns the number of buffered messages.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.window())
}

// window is the visible part of buf. Callers hold mu.
func (a *Aggregator) window() []ChatMessage {
	if a.limit > 0 && len(a.buf) > a.limit {
		return a.buf[len(a.buf)-a.limit:]
	}
	return a.buf
}

// Subscribe returns a channel receiving every message appended after the
// call. Deliveries never block Append: when the channel is full the message
// is dropped for that subscriber. The returned func unsubscribes and closes
// the channel; it is safe to call more than once.
func (a *Aggregator) Subscribe(buffer int) (<-chan ChatMessage, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan ChatMessage, buffer)

	a.subMu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	a.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subs, id)
			a.subMu.Unlock()
			close(ch)
		})
	}
}

func (a *Aggregator) publish(msg ChatMessage) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- msg:
		default:
			telemetry.IncSubscriberDrop()
		}
	}
}
