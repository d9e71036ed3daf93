package observer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifelog/internal/lifecycle"
	"lifelog/internal/storage"
)

// fakeSource is an in-memory Source with a write counter.
type fakeSource struct {
	mu      sync.Mutex
	stamps  map[string]int64
	version int64
	err     error

	stampCalls atomic.Int32
	active     atomic.Int32
	maxActive  atomic.Int32
	delay      time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{stamps: make(map[string]int64)}
}

func (f *fakeSource) put(id string, ts int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stamps[id] = ts
	f.version++
}

func (f *fakeSource) del(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stamps, id)
	f.version++
}

func (f *fakeSource) Stamps(ctx context.Context) ([]storage.Stamp, error) {
	f.stampCalls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]storage.Stamp, 0, len(f.stamps))
	for id, ts := range f.stamps {
		out = append(out, storage.Stamp{ID: id, UpdatedAt: ts})
	}
	return out, nil
}

func (f *fakeSource) Version(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, f.err
}

// recorder collects DATA_CHANGED events.
type recorder struct {
	mu     sync.Mutex
	events []lifecycle.Event
}

func (r *recorder) listen(ctx context.Context, ev lifecycle.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []lifecycle.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.Event(nil), r.events...)
}

func newTestObserver(t *testing.T, opts ...Option) (*Observer, *lifecycle.Bus, *recorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	bus := lifecycle.NewBus(lifecycle.WithLogger(logger))
	t.Cleanup(bus.Close)

	rec := &recorder{}
	bus.On(lifecycle.DataChanged, rec.listen)

	obs := New(bus, append([]Option{WithLogger(logger)}, opts...)...)
	return obs, bus, rec
}

func TestCheck_BaselineThenNoChange(t *testing.T) {
	obs, _, rec := newTestObserver(t)
	src := newFakeSource()
	src.put("a", 1)
	require.NoError(t, obs.Register("posts", src))
	ctx := context.Background()

	first, err := obs.Check(ctx, "posts")
	require.NoError(t, err)
	assert.False(t, first.HasChanged)
	assert.Nil(t, first.OldState)
	assert.Equal(t, 1, first.NewState.Count)

	second, err := obs.Check(ctx, "posts")
	require.NoError(t, err)
	assert.False(t, second.HasChanged)
	assert.Empty(t, rec.all())
}

func TestCheck_DetectsInsertUpdateDelete(t *testing.T) {
	obs, _, rec := newTestObserver(t)
	src := newFakeSource()
	src.put("a", 1)
	src.put("b", 1)
	require.NoError(t, obs.Register("habits", src))
	ctx := context.Background()

	_, err := obs.Check(ctx, "habits")
	require.NoError(t, err)

	src.put("c", 5)
	res, err := obs.Check(ctx, "habits")
	require.NoError(t, err)
	assert.True(t, res.HasChanged)
	assert.Equal(t, 1, res.Delta.CountDiff)
	assert.Equal(t, []string{"c"}, res.Delta.Added)
	require.NotNil(t, res.OldState)
	assert.Equal(t, 2, res.OldState.Count)
	assert.Equal(t, 3, res.NewState.Count)

	src.put("a", 2)
	res, err = obs.Check(ctx, "habits")
	require.NoError(t, err)
	assert.True(t, res.HasChanged)
	assert.Equal(t, 0, res.Delta.CountDiff)
	assert.Equal(t, []string{"a"}, res.Delta.Modified)

	src.del("b")
	res, err = obs.Check(ctx, "habits")
	require.NoError(t, err)
	assert.True(t, res.HasChanged)
	assert.Equal(t, -1, res.Delta.CountDiff)
	assert.Equal(t, []string{"b"}, res.Delta.Removed)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, "habits", events[0].Payload["collection"])
	assert.Equal(t, true, events[0].Payload["hasChanged"])
	assert.Equal(t, 1, events[0].Payload["changes"].(Delta).CountDiff)
}

func TestCheck_UnknownCollection(t *testing.T) {
	obs, _, _ := newTestObserver(t)
	_, err := obs.Check(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestRegister_Duplicate(t *testing.T) {
	obs, _, _ := newTestObserver(t)
	require.NoError(t, obs.Register("posts", newFakeSource()))
	assert.Error(t, obs.Register("posts", newFakeSource()))
}

func TestCheckAll_IsolatesFailures(t *testing.T) {
	obs, _, _ := newTestObserver(t)
	good := newFakeSource()
	bad := newFakeSource()
	bad.err = errors.New("disk on fire")
	other := newFakeSource()

	require.NoError(t, obs.Register("posts", good))
	require.NoError(t, obs.Register("habits", bad))
	require.NoError(t, obs.Register("settings", other))

	results := obs.CheckAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "posts", results[0].Collection)
	assert.Equal(t, "settings", results[1].Collection)
}

func TestCheckAll_SerializesSameCollection(t *testing.T) {
	obs, _, _ := newTestObserver(t)
	src := newFakeSource()
	src.delay = 5 * time.Millisecond
	src.put("a", 1)
	require.NoError(t, obs.Register("posts", src))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs.CheckAll(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.maxActive.Load())
	assert.Equal(t, int32(10), src.stampCalls.Load())
}

func TestCheck_DeliversInStateOrder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	bus := lifecycle.NewBus(lifecycle.WithLogger(logger))
	t.Cleanup(bus.Close)

	// The first delivery stalls before later listeners see it.
	entered := make(chan struct{})
	var calls atomic.Int32
	bus.On(lifecycle.DataChanged, func(context.Context, lifecycle.Event) error {
		if calls.Add(1) == 1 {
			close(entered)
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	})
	rec := &recorder{}
	bus.On(lifecycle.DataChanged, rec.listen)

	obs := New(bus, WithLogger(logger))
	src := newFakeSource()
	src.put("a", 1)
	require.NoError(t, obs.Register("posts", src))
	ctx := context.Background()
	_, err := obs.Check(ctx, "posts")
	require.NoError(t, err)

	src.put("b", 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := obs.Check(ctx, "posts")
		assert.NoError(t, err)
	}()

	<-entered
	src.put("c", 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := obs.Check(ctx, "posts")
		assert.NoError(t, err)
	}()
	wg.Wait()

	var counts []int
	for _, ev := range rec.all() {
		counts = append(counts, ev.Payload["newState"].(ChangeState).Count)
	}
	assert.Equal(t, []int{2, 3}, counts)
}

func TestVersionStrategy_SkipsUnchanged(t *testing.T) {
	obs, _, rec := newTestObserver(t, WithStrategy(StrategyVersion))
	src := newFakeSource()
	src.put("a", 1)
	require.NoError(t, obs.Register("posts", src))
	ctx := context.Background()

	_, err := obs.Check(ctx, "posts")
	require.NoError(t, err)
	_, err = obs.Check(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.stampCalls.Load())

	src.put("b", 1)
	res, err := obs.Check(ctx, "posts")
	require.NoError(t, err)
	assert.True(t, res.HasChanged)
	assert.Equal(t, int32(2), src.stampCalls.Load())
	assert.Len(t, rec.all(), 1)
}

func TestForceRefresh_EmitsForEveryCollection(t *testing.T) {
	obs, _, rec := newTestObserver(t)
	require.NoError(t, obs.Register("posts", newFakeSource()))
	require.NoError(t, obs.Register("habits", newFakeSource()))
	ctx := context.Background()
	obs.CheckAll(ctx)

	results := obs.ForceRefresh(ctx)
	require.Len(t, results, 2)

	events := rec.all()
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, true, ev.Payload["forced"])
		assert.Equal(t, false, ev.Payload["hasChanged"])
	}
}

func TestNotifyChange(t *testing.T) {
	obs, _, rec := newTestObserver(t)
	src := newFakeSource()
	require.NoError(t, obs.Register("posts", src))
	ctx := context.Background()
	obs.CheckAll(ctx)

	src.put("new", 1)
	require.NoError(t, obs.NotifyChange(ctx, "posts", map[string]any{"action": "create", "id": "new"}))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "manual", events[0].Payload["source"])
	assert.Equal(t, map[string]any{"action": "create", "id": "new"}, events[0].Payload["changes"])

	res, err := obs.Check(ctx, "posts")
	require.NoError(t, err)
	assert.False(t, res.HasChanged, "poll after notify should not re-broadcast")
	assert.Len(t, rec.all(), 1)

	require.NoError(t, obs.NotifyChange(ctx, "unregistered", nil))
	assert.Len(t, rec.all(), 2)
}

func TestStates(t *testing.T) {
	obs, _, _ := newTestObserver(t)
	src := newFakeSource()
	src.put("a", 1)
	require.NoError(t, obs.Register("posts", src))
	require.NoError(t, obs.Register("habits", newFakeSource()))

	assert.Empty(t, obs.States())

	_, err := obs.Check(context.Background(), "posts")
	require.NoError(t, err)

	states := obs.States()
	require.Len(t, states, 1)
	assert.Equal(t, 1, states["posts"].Count)
}

func TestStartPolling_TriggersAndStops(t *testing.T) {
	obs, bus, rec := newTestObserver(t)
	src := newFakeSource()
	require.NoError(t, obs.Register("posts", src))
	ctx := context.Background()

	stop := obs.StartPolling(ctx, time.Hour)
	assert.Len(t, obs.States(), 1, "immediate check records a baseline")
	assert.Equal(t, 1, bus.ListenerCount(lifecycle.FocusGained))
	assert.Equal(t, 1, bus.ListenerCount(lifecycle.RouteChanged))

	src.put("a", 1)
	bus.Emit(ctx, lifecycle.FocusGained, nil)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 10*time.Millisecond)

	src.put("b", 1)
	bus.Emit(ctx, lifecycle.RouteChanged, lifecycle.RouteChangedPayload("/", "/habits", "push"))
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, 2*time.Second, 10*time.Millisecond)

	stop()
	stop()
	assert.Equal(t, 0, bus.ListenerCount(lifecycle.FocusGained))
	assert.Equal(t, 0, bus.ListenerCount(lifecycle.RouteChanged))
}

func TestStartPolling_Ticker(t *testing.T) {
	obs, _, rec := newTestObserver(t)
	src := newFakeSource()
	require.NoError(t, obs.Register("posts", src))

	stop := obs.StartPolling(context.Background(), 20*time.Millisecond)
	defer stop()

	src.put("a", 1)
	require.Eventually(t, func() bool { return len(rec.all()) >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchFile(t *testing.T) {
	obs, _, rec := newTestObserver(t)
	src := newFakeSource()
	require.NoError(t, obs.Register("posts", src))
	ctx := context.Background()
	obs.CheckAll(ctx)

	path := filepath.Join(t.TempDir(), "lifelog.db")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	stop, err := obs.WatchFile(ctx, path)
	require.NoError(t, err)
	defer stop()

	src.put("a", 1)
	require.NoError(t, os.WriteFile(path+"-wal", []byte("frame"), 0o644))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestWatchFile_MissingDirectory(t *testing.T) {
	obs, _, _ := newTestObserver(t)
	_, err := obs.WatchFile(context.Background(), filepath.Join(t.TempDir(), "missing", "lifelog.db"))
	assert.Error(t, err)
}

func TestWatchFile_ClosesWatcherOnCancel(t *testing.T) {
	var watcher *fsnotify.Watcher
	newWatcher = func() (*fsnotify.Watcher, error) {
		w, err := fsnotify.NewWatcher()
		watcher = w
		return w, err
	}
	t.Cleanup(func() { newWatcher = fsnotify.NewWatcher })

	obs, _, _ := newTestObserver(t)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	stop, err := obs.WatchFile(ctx, filepath.Join(dir, "lifelog.db"))
	require.NoError(t, err)
	defer stop()
	require.NotNil(t, watcher)

	cancel()
	require.Eventually(t, func() bool {
		return watcher.Add(dir) != nil
	}, 3*time.Second, 20*time.Millisecond, "watcher should be closed after cancel")
}
