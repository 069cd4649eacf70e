package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(path string, op Op) Event {
	return Event{Path: path, Op: op, At: time.Now()}
}

func ops(evs []Event) map[string]Op {
	out := make(map[string]Op, len(evs))
	for _, e := range evs {
		out[e.Path] = e.Op
	}
	return out
}

func TestQueue_Coalescing(t *testing.T) {
	tests := []struct {
		name   string
		seq    []Op
		want   Op
		remove bool
	}{
		{name: "create then modify", seq: []Op{OpCreate, OpModify}, want: OpCreate},
		{name: "create then delete", seq: []Op{OpCreate, OpDelete}, remove: true},
		{name: "modify then delete", seq: []Op{OpModify, OpDelete}, want: OpDelete},
		{name: "delete then create", seq: []Op{OpDelete, OpCreate}, want: OpModify},
		{name: "modify then modify", seq: []Op{OpModify, OpModify}, want: OpModify},
		{name: "create modify delete", seq: []Op{OpCreate, OpModify, OpDelete}, remove: true},
		{name: "delete create modify", seq: []Op{OpDelete, OpCreate, OpModify}, want: OpModify},
		{name: "create delete create", seq: []Op{OpCreate, OpDelete, OpCreate}, want: OpCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given a sequence of operations on one path
			var q queue
			for _, op := range tt.seq {
				q.add(ev("/r/a.md", op))
			}

			// Then they merge by the coalescing rules
			if tt.remove {
				assert.Zero(t, q.len())
				return
			}
			require.Equal(t, 1, q.len())
			assert.Equal(t, tt.want, q.events[0].Op)
		})
	}
}

func TestQueue_KeepsArrivalOrder(t *testing.T) {
	var q queue
	q.add(ev("/r/b", OpModify))
	q.add(ev("/r/a", OpCreate))
	q.add(ev("/r/c", OpCreate))
	q.add(ev("/r/a", OpDelete))
	q.add(ev("/r/b", OpModify))
	q.add(ev("/r/a", OpCreate))

	got := q.drain()

	paths := make([]string, len(got))
	for i, e := range got {
		paths[i] = e.Path
	}
	assert.Equal(t, []string{"/r/b", "/r/c", "/r/a"}, paths)
	assert.Zero(t, q.len())
}

func startDebouncer(t *testing.T, window time.Duration) (chan<- Event, <-chan []Event) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan Event)
	out := make(chan []Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewDebouncer(window).Run(ctx, in, out)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return in, out
}

func TestDebouncer_FlushesAfterQuietWindow(t *testing.T) {
	// Given a running debouncer
	in, out := startDebouncer(t, 50*time.Millisecond)

	// When a burst of events arrives
	in <- ev("/r/a.md", OpCreate)
	in <- ev("/r/a.md", OpModify)
	in <- ev("/r/b.md", OpModify)

	// Then one coalesced batch is flushed
	select {
	case batch := <-out:
		assert.Equal(t, map[string]Op{"/r/a.md": OpCreate, "/r/b.md": OpModify}, ops(batch))
	case <-time.After(2 * time.Second):
		t.Fatal("no batch flushed")
	}
}

func TestDebouncer_CancelledPairEmitsNothing(t *testing.T) {
	in, out := startDebouncer(t, 30*time.Millisecond)

	in <- ev("/r/tmp.md", OpCreate)
	in <- ev("/r/tmp.md", OpDelete)

	select {
	case batch := <-out:
		t.Fatalf("unexpected batch %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncer_AccumulatesWhileConsumerBusy(t *testing.T) {
	// Given a flushed batch nobody has taken yet
	in, out := startDebouncer(t, 20*time.Millisecond)
	in <- ev("/r/a.md", OpModify)
	time.Sleep(100 * time.Millisecond)

	// When more events flush behind it
	in <- ev("/r/a.md", OpDelete)
	in <- ev("/r/b.md", OpCreate)
	time.Sleep(100 * time.Millisecond)

	// Then the consumer receives one merged batch
	select {
	case batch := <-out:
		assert.Equal(t, map[string]Op{"/r/a.md": OpDelete, "/r/b.md": OpCreate}, ops(batch))
	case <-time.After(time.Second):
		t.Fatal("no batch flushed")
	}
}

func TestDebouncer_ClosedInputFlushesRemainder(t *testing.T) {
	in := make(chan Event, 2)
	out := make(chan []Event, 1)
	in <- ev("/r/a.md", OpModify)
	close(in)

	NewDebouncer(time.Hour).Run(context.Background(), in, out)

	batch := <-out
	assert.Equal(t, map[string]Op{"/r/a.md": OpModify}, ops(batch))
}
