package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"lifelog/internal/contextutil"
)

// ListenerError records a listener that failed while handling an event.
type ListenerError struct {
	Type  EventType
	Index int   // position of the listener in the dispatch snapshot
	Err   error // returned error, nil when the listener panicked
	Panic any   // recovered panic value
}

func (e *ListenerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("listener %d for %s panicked: %v", e.Index, e.Type, e.Panic)
	}
	return fmt.Sprintf("listener %d for %s failed: %v", e.Index, e.Type, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

type subscription struct {
	fn Listener
}

// Bus dispatches events synchronously to listeners in registration order.
// It is safe for concurrent use. Listeners may subscribe or unsubscribe
// during dispatch; each Emit delivers to the listeners registered when it
// started.
type Bus struct {
	mu        sync.RWMutex
	listeners map[EventType][]*subscription
	closed    bool

	logger  *slog.Logger
	now     func() time.Time
	onError func(*ListenerError)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithClock sets the source of event timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// WithErrorHandler registers a hook that receives every listener failure.
func WithErrorHandler(fn func(*ListenerError)) Option {
	return func(b *Bus) {
		b.onError = fn
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		listeners: make(map[EventType][]*subscription),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers listener for t and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) On(t EventType, listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	sub := &subscription{fn: listener}
	b.listeners[t] = append(b.listeners[t], sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(t, sub)
		})
	}
}

func (b *Bus) remove(t EventType, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.listeners[t]
	for i, s := range subs {
		if s == sub {
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.listeners, t)
			} else {
				b.listeners[t] = next
			}
			return
		}
	}
}

// Off removes every listener registered for t.
func (b *Bus) Off(t EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, t)
}

// ListenerCount returns the number of listeners registered for t.
func (b *Bus) ListenerCount(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[t])
}

// Emit builds an event and delivers it to the listeners for its type, then
// to listeners registered for AllEvents. Each listener gets its own copy of
// the payload map. Listener failures are logged and never returned.
func (b *Bus) Emit(ctx context.Context, t EventType, payload map[string]any) Event {
	ev := Event{
		Type:      t,
		Payload:   maps.Clone(payload),
		Timestamp: b.now().UTC(),
	}

	b.mu.RLock()
	snapshot := make([]*subscription, 0, len(b.listeners[t])+len(b.listeners[AllEvents]))
	snapshot = append(snapshot, b.listeners[t]...)
	if t != AllEvents {
		snapshot = append(snapshot, b.listeners[AllEvents]...)
	}
	b.mu.RUnlock()

	for i, sub := range snapshot {
		delivered := ev
		delivered.Payload = maps.Clone(ev.Payload)
		if lerr := dispatch(ctx, sub.fn, delivered, i); lerr != nil {
			b.report(ctx, lerr)
		}
	}
	return ev
}

func dispatch(ctx context.Context, fn Listener, ev Event, index int) (lerr *ListenerError) {
	defer func() {
		if r := recover(); r != nil {
			lerr = &ListenerError{Type: ev.Type, Index: index, Panic: r}
		}
	}()
	if err := fn(ctx, ev); err != nil {
		return &ListenerError{Type: ev.Type, Index: index, Err: err}
	}
	return nil
}

func (b *Bus) report(ctx context.Context, lerr *ListenerError) {
	logger := b.logger
	if ctxLogger := contextutil.LoggerFromContext(ctx); ctxLogger != slog.Default() {
		logger = ctxLogger
	}
	logger.ErrorContext(ctx, "lifecycle listener failed",
		"event_type", string(lerr.Type),
		"listener", lerr.Index,
		"error", lerr.Error(),
	)
	if b.onError != nil {
		b.onError(lerr)
	}
}

// Close drops every listener. Later registrations are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[EventType][]*subscription)
	b.closed = true
}
