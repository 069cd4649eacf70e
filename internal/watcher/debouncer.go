package watcher

import (
	"context"
	"time"
)

// Debouncer coalesces raw events per path. It runs on its own goroutine and
// flushes once no event has arrived for the debounce window.
//
// Events for one path merge in arrival order:
//
//	CREATE then MODIFY  -> CREATE
//	CREATE then DELETE  -> dropped
//	MODIFY then DELETE  -> DELETE
//	DELETE then CREATE  -> MODIFY
//
// Any other pair keeps the later operation. A flushed batch that the consumer
// has not taken yet keeps absorbing new flushes under the same rules.
type Debouncer struct {
	window time.Duration
}

// NewDebouncer creates a Debouncer.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Run reads in until ctx is done or in is closed, sending batches to out.
// It does not close out.
func (d *Debouncer) Run(ctx context.Context, in <-chan Event, out chan<- []Event) {
	var pending, ready queue
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var send chan<- []Event
		if ready.len() > 0 {
			send = out
		}

		select {
		case <-ctx.Done():
			return

		case ev, ok := <-in:
			if !ok {
				ready.merge(&pending)
				if ready.len() > 0 {
					select {
					case out <- ready.drain():
					case <-ctx.Done():
					}
				}
				return
			}
			pending.add(ev)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(d.window)
			fire = timer.C

		case <-fire:
			fire = nil
			ready.merge(&pending)

		case send <- ready.peek():
			ready.reset()
		}
	}
}

// queue keeps one event per path in first-arrival order.
type queue struct {
	events []Event
	index  map[string]int
	// batch caches the slice handed to a pending send.
	batch []Event
}

func (q *queue) len() int { return len(q.index) }

func (q *queue) add(ev Event) {
	if q.index == nil {
		q.index = make(map[string]int)
	}
	q.batch = nil
	i, ok := q.index[ev.Path]
	if !ok {
		q.index[ev.Path] = len(q.events)
		q.events = append(q.events, ev)
		return
	}
	merged, keep := coalesce(q.events[i], ev)
	if !keep {
		q.remove(i)
		return
	}
	q.events[i] = merged
}

func (q *queue) remove(i int) {
	delete(q.index, q.events[i].Path)
	q.events = append(q.events[:i], q.events[i+1:]...)
	for j := i; j < len(q.events); j++ {
		q.index[q.events[j].Path] = j
	}
}

// merge moves every event of other into q.
func (q *queue) merge(other *queue) {
	for _, ev := range other.events {
		q.add(ev)
	}
	other.reset()
}

// peek returns the current batch without consuming it.
func (q *queue) peek() []Event {
	if q.batch == nil {
		q.batch = append([]Event(nil), q.events...)
	}
	return q.batch
}

func (q *queue) drain() []Event {
	out := q.peek()
	q.reset()
	return out
}

func (q *queue) reset() {
	q.events = nil
	q.index = nil
	q.batch = nil
}

// coalesce merges next into prev. keep is false when the pair cancels out.
func coalesce(prev, next Event) (Event, bool) {
	switch {
	case prev.Op == OpCreate && next.Op == OpModify:
		prev.At = next.At
		return prev, true
	case prev.Op == OpCreate && next.Op == OpDelete:
		return Event{}, false
	case prev.Op == OpDelete && next.Op == OpCreate:
		next.Op = OpModify
		return next, true
	default:
		return next, true
	}
}
