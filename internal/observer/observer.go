// Package observer detects changes in collections by comparing cheap
// fingerprints and broadcasts DATA_CHANGED lifecycle events.
package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"lifelog/internal/lifecycle"
	"lifelog/internal/storage"
)

// DefaultPollInterval is used when StartPolling gets a non-positive interval.
const DefaultPollInterval = 30 * time.Second

// ErrUnknownCollection is returned for collections that were never registered.
var ErrUnknownCollection = errors.New("collection not registered with observer")

// Source exposes the change summary of one collection.
type Source interface {
	Stamps(ctx context.Context) ([]storage.Stamp, error)
	Version(ctx context.Context) (int64, error)
}

// EventBus is the subset of the lifecycle bus the observer needs.
type EventBus interface {
	On(t lifecycle.EventType, listener lifecycle.Listener) func()
	Emit(ctx context.Context, t lifecycle.EventType, payload map[string]any) lifecycle.Event
}

type collection struct {
	name   string
	source Source

	// publishMu is held from refresh through Emit so DATA_CHANGED events
	// of one collection are delivered in the order their states were taken.
	// It is taken before mu and never held by States.
	publishMu sync.Mutex

	// mu guards the cache.
	mu     sync.Mutex
	state  *ChangeState
	stamps map[string]int64
}

// Observer tracks registered collections and reports their changes.
type Observer struct {
	bus      EventBus
	logger   *slog.Logger
	strategy Strategy
	now      func() time.Time

	mu          sync.RWMutex
	collections map[string]*collection
	order       []string
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the observer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		o.logger = logger
	}
}

// WithStrategy selects the change detection strategy.
func WithStrategy(s Strategy) Option {
	return func(o *Observer) {
		o.strategy = s
	}
}

// WithClock sets the time source for ChangeState.LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(o *Observer) {
		o.now = now
	}
}

// New creates an observer that publishes through bus.
func New(bus EventBus, opts ...Option) *Observer {
	o := &Observer{
		bus:         bus,
		logger:      slog.Default(),
		strategy:    StrategyFingerprint,
		now:         time.Now,
		collections: make(map[string]*collection),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a collection to observe.
func (o *Observer) Register(name string, src Source) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.collections[name]; ok {
		return fmt.Errorf("collection %s already registered", name)
	}
	o.collections[name] = &collection{name: name, source: src}
	o.order = append(o.order, name)
	return nil
}

func (o *Observer) lookup(name string) (*collection, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	c, ok := o.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

func (o *Observer) registered() []*collection {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*collection, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.collections[name])
	}
	return out
}

// Check compares one collection against its cached state and emits
// DATA_CHANGED when it diverged. The first check of a collection only
// records a baseline. A DATA_CHANGED listener must not check the collection
// it is being notified about.
func (o *Observer) Check(ctx context.Context, name string) (ChangeResult, error) {
	c, err := o.lookup(name)
	if err != nil {
		return ChangeResult{}, err
	}
	return o.check(ctx, c)
}

func (o *Observer) check(ctx context.Context, c *collection) (ChangeResult, error) {
	return o.publish(ctx, c, false)
}

// publish refreshes c and emits DATA_CHANGED when it changed, or always when
// forced.
func (o *Observer) publish(ctx context.Context, c *collection, forced bool) (ChangeResult, error) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	result, err := o.refresh(ctx, c)
	c.mu.Unlock()
	if err != nil {
		return ChangeResult{}, err
	}

	switch {
	case forced:
		payload := result.payload()
		payload["forced"] = true
		o.bus.Emit(ctx, lifecycle.DataChanged, payload)
	case result.HasChanged:
		o.bus.Emit(ctx, lifecycle.DataChanged, result.payload())
	}
	return result, nil
}

// refresh recomputes the state of c and updates the cache. c.mu must be held.
func (o *Observer) refresh(ctx context.Context, c *collection) (ChangeResult, error) {
	version, err := c.source.Version(ctx)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("failed to read version of %s: %w", c.name, err)
	}

	if o.strategy == StrategyVersion && c.state != nil && c.state.Version == version {
		old := *c.state
		return ChangeResult{Collection: c.name, OldState: &old, NewState: old, Delta: diff(nil, nil)}, nil
	}

	stamps, err := c.source.Stamps(ctx)
	if err != nil {
		return ChangeResult{}, fmt.Errorf("failed to read stamps of %s: %w", c.name, err)
	}
	current := stampMap(stamps)
	next := ChangeState{
		LastUpdated: o.now().UTC(),
		Count:       len(stamps),
		Fingerprint: Fingerprint(stamps),
		Version:     version,
	}

	if c.state == nil {
		c.state = &next
		c.stamps = current
		return ChangeResult{Collection: c.name, NewState: next, Delta: diff(current, current)}, nil
	}

	old := *c.state
	if old.Count == next.Count && old.Fingerprint == next.Fingerprint {
		c.state.Version = version
		return ChangeResult{Collection: c.name, OldState: &old, NewState: *c.state, Delta: diff(current, current)}, nil
	}

	delta := diff(c.stamps, current)
	c.state = &next
	c.stamps = current
	return ChangeResult{
		Collection: c.name,
		HasChanged: true,
		OldState:   &old,
		NewState:   next,
		Delta:      delta,
	}, nil
}

// CheckAll checks every registered collection concurrently. A collection
// whose check fails is logged and left out of the results. Results follow
// registration order.
func (o *Observer) CheckAll(ctx context.Context) []ChangeResult {
	return o.runAll(ctx, o.check)
}

func (o *Observer) runAll(ctx context.Context, fn func(context.Context, *collection) (ChangeResult, error)) []ChangeResult {
	cols := o.registered()
	if len(cols) == 0 {
		return []ChangeResult{}
	}

	p := pool.NewWithResults[*ChangeResult]().WithMaxGoroutines(len(cols))
	for _, c := range cols {
		p.Go(func() *ChangeResult {
			result, err := fn(ctx, c)
			if err != nil {
				o.logger.ErrorContext(ctx, "collection check failed",
					"collection", c.name,
					"error", err,
				)
				return nil
			}
			return &result
		})
	}

	position := make(map[string]int, len(cols))
	for i, c := range cols {
		position[c.name] = i
	}
	results := make([]ChangeResult, 0, len(cols))
	for _, r := range p.Wait() {
		if r != nil {
			results = append(results, *r)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return position[results[i].Collection] < position[results[j].Collection]
	})
	return results
}

// ForceRefresh recomputes every collection and emits DATA_CHANGED for each
// one, changed or not.
func (o *Observer) ForceRefresh(ctx context.Context) []ChangeResult {
	return o.runAll(ctx, func(ctx context.Context, c *collection) (ChangeResult, error) {
		return o.publish(ctx, c, true)
	})
}

// NotifyChange broadcasts DATA_CHANGED for collection right away, carrying
// data as the change description. When the collection is registered its
// cache is then refreshed so the next poll does not report the same change.
func (o *Observer) NotifyChange(ctx context.Context, name string, data map[string]any) error {
	payload := map[string]any{
		"collection": name,
		"hasChanged": true,
		"source":     "manual",
		"changes":    data,
	}

	c, err := o.lookup(name)
	if err != nil {
		o.bus.Emit(ctx, lifecycle.DataChanged, payload)
		return nil
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	if c.state != nil {
		old := *c.state
		payload["oldState"] = &old
	}
	c.mu.Unlock()
	o.bus.Emit(ctx, lifecycle.DataChanged, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := o.refresh(ctx, c); err != nil {
		return err
	}
	return nil
}

// States returns a snapshot of the cached state of every collection that has
// been checked at least once.
func (o *Observer) States() map[string]ChangeState {
	out := make(map[string]ChangeState)
	for _, c := range o.registered() {
		c.mu.Lock()
		if c.state != nil {
			out[c.name] = *c.state
		}
		c.mu.Unlock()
	}
	return out
}

func (r ChangeResult) payload() map[string]any {
	return map[string]any{
		"collection": r.Collection,
		"hasChanged": r.HasChanged,
		"oldState":   r.OldState,
		"newState":   r.NewState,
		"changes":    r.Delta,
	}
}
