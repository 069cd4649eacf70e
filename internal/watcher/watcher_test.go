package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

type fakeSub struct {
	events chan Event
	errs   chan error
	closed atomic.Bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan Event, 8), errs: make(chan error, 1)}
}

func (f *fakeSub) Events() <-chan Event { return f.events }
func (f *fakeSub) Errors() <-chan error { return f.errs }
func (f *fakeSub) Kind() string         { return "fake" }
func (f *fakeSub) Close() error {
	f.closed.Store(true)
	return nil
}

// recorder collects triggered subtrees.
type recorder struct {
	mu   sync.Mutex
	got  []string
	seen chan string
}

func newRecorder() *recorder { return &recorder{seen: make(chan string, 64)} }

func (r *recorder) trigger(_ context.Context, subtree string) error {
	r.mu.Lock()
	r.got = append(r.got, subtree)
	r.mu.Unlock()
	r.seen <- subtree
	return nil
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-r.seen:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no pass triggered")
		return ""
	}
}

func newTestWatcher(t *testing.T, opts Options) (*Watcher, string) {
	t.Helper()
	home, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	root := filepath.Join(home, "kb")
	require.NoError(t, os.MkdirAll(root, 0o755))
	opts.HomeRoot = home
	w, err := New(root, opts)
	require.NoError(t, err)
	return w, w.Root()
}

func runWatcher(t *testing.T, w *Watcher, rec *recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, NewDispatcher(w.Root(), rec.trigger, nil)) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func TestNew_RejectsRootOutsideHome(t *testing.T) {
	_, err := New(t.TempDir(), Options{HomeRoot: t.TempDir()})

	require.Error(t, err)
	assert.True(t, kberrors.IsValidation(err))
}

func TestWatcher_ResubscribesAfterLoss(t *testing.T) {
	// Given subscriptions that fail, then close, then stay up
	w, root := newTestWatcher(t, Options{
		Debounce:              10 * time.Millisecond,
		ResubscribeBackoff:    5 * time.Millisecond,
		ResubscribeMaxBackoff: 20 * time.Millisecond,
	})
	var calls atomic.Int32
	first, second := newFakeSub(), newFakeSub()
	w.subscribe = func(context.Context) (subscription, error) {
		switch calls.Add(1) {
		case 1:
			return nil, errors.New("no watches left")
		case 2:
			close(first.events)
			return first, nil
		default:
			return second, nil
		}
	}
	rec := newRecorder()

	// When the watcher runs
	runWatcher(t, w, rec)

	// Then it recovers and rescans the root
	assert.Equal(t, root, rec.next(t))
	assert.True(t, first.closed.Load())
	assert.GreaterOrEqual(t, calls.Load(), int32(3))

	// And events of the new subscription are dispatched
	file := filepath.Join(root, "a.md")
	second.events <- Event{Path: file, Op: OpCreate, At: time.Now()}
	assert.Equal(t, file, rec.next(t))
}

func TestWatcher_ErrorTriggersResubscribe(t *testing.T) {
	w, root := newTestWatcher(t, Options{
		Debounce:              10 * time.Millisecond,
		ResubscribeBackoff:    5 * time.Millisecond,
		ResubscribeMaxBackoff: 5 * time.Millisecond,
	})
	var calls atomic.Int32
	w.subscribe = func(context.Context) (subscription, error) {
		s := newFakeSub()
		if calls.Add(1) == 1 {
			s.errs <- errors.New("queue overflow")
		}
		return s, nil
	}
	rec := newRecorder()

	runWatcher(t, w, rec)

	assert.Equal(t, root, rec.next(t))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWatcher_Polling(t *testing.T) {
	// Given a polling watcher
	w, root := newTestWatcher(t, Options{
		ForcePolling: true,
		PollInterval: 20 * time.Millisecond,
		Debounce:     30 * time.Millisecond,
		Exclude:      []string{"*.tmp"},
	})
	rec := newRecorder()
	runWatcher(t, w, rec)
	time.Sleep(50 * time.Millisecond)

	// When an excluded and an included file are written
	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0o644))
	file := filepath.Join(root, "a.md")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	// Then only the included file triggers a pass
	assert.Equal(t, file, rec.next(t))
}

func TestWatcher_Fsnotify(t *testing.T) {
	// Given an fsnotify watcher over a folder with a subdirectory
	w, root := newTestWatcher(t, Options{Debounce: 50 * time.Millisecond})
	sub := filepath.Join(root, "team")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	rec := newRecorder()
	runWatcher(t, w, rec)
	time.Sleep(100 * time.Millisecond)

	// When two files in the subdirectory change
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a.md"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.md"), []byte("b"), 0o644))

	// Then one pass covers their directory
	assert.Equal(t, sub, rec.next(t))
}

func TestPollDiff(t *testing.T) {
	t0 := time.Unix(100, 0)
	prev := map[string]snapshot{
		"/r/a": {modTime: t0, size: 1},
		"/r/b": {modTime: t0, size: 1},
		"/r/d": {isDir: true, modTime: t0},
	}
	cur := map[string]snapshot{
		"/r/a": {modTime: t0, size: 1},
		"/r/b": {modTime: t0.Add(time.Second), size: 2},
		"/r/c": {modTime: t0, size: 1},
		"/r/d": {isDir: true, modTime: t0.Add(time.Second)},
	}

	got := diff(prev, cur)

	assert.Equal(t, map[string]Op{"/r/b": OpModify, "/r/c": OpCreate}, ops(got))
	assert.Equal(t, "/r/b", got[0].Path)

	got = diff(cur, prev)
	assert.Equal(t, map[string]Op{"/r/b": OpModify, "/r/c": OpDelete}, ops(got))
}

func TestClassify_IgnoreFiles(t *testing.T) {
	assert.Equal(t, OpIgnoreChange, classify(Event{Path: "/r/.kbignore", Op: OpModify}).Op)
	assert.Equal(t, OpIgnoreChange, classify(Event{Path: "/r/x/.gitignore", Op: OpDelete}).Op)
	assert.Equal(t, OpModify, classify(Event{Path: "/r/a.md", Op: OpModify}).Op)
}
