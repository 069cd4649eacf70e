package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// pollSubscription detects changes by comparing directory snapshots.
type pollSubscription struct {
	root     string
	interval time.Duration
	filter   *filter
	state    map[string]snapshot

	events chan Event
	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type snapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

func newPollSubscription(ctx context.Context, root string, interval time.Duration, f *filter) (*pollSubscription, error) {
	p := &pollSubscription{
		root:     root,
		interval: interval,
		filter:   f,
		events:   make(chan Event, 256),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	state, err := p.scan()
	if err != nil {
		return nil, fmt.Errorf("initial scan: %w", err)
	}
	p.state = state

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
	return p, nil
}

func (p *pollSubscription) Kind() string         { return "polling" }
func (p *pollSubscription) Events() <-chan Event { return p.events }
func (p *pollSubscription) Errors() <-chan error { return p.errs }

func (p *pollSubscription) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
	return nil
}

func (p *pollSubscription) loop(ctx context.Context) {
	defer close(p.done)
	defer close(p.events)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := p.scan()
			if err != nil {
				select {
				case p.errs <- err:
				default:
				}
				return
			}
			for _, ev := range diff(p.state, current) {
				select {
				case p.events <- classify(ev):
				case <-ctx.Done():
					return
				}
			}
			p.state = current
		}
	}
}

// scan records every non-excluded path below the root. A root that cannot
// be read is an error; unreadable entries below it are skipped.
func (p *pollSubscription) scan() (map[string]snapshot, error) {
	out := make(map[string]snapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			return nil
		}
		if path == p.root {
			return nil
		}
		if p.filter.skip(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[path] = snapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
		return nil
	})
	return out, err
}

// diff returns creations and modifications in path order, then deletions.
func diff(prev, cur map[string]snapshot) []Event {
	now := time.Now()
	var changed, deleted []Event
	for path, s := range cur {
		old, ok := prev[path]
		switch {
		case !ok:
			changed = append(changed, Event{Path: path, Op: OpCreate, IsDir: s.isDir, At: now})
		case !s.isDir && (old.modTime != s.modTime || old.size != s.size):
			changed = append(changed, Event{Path: path, Op: OpModify, At: now})
		}
	}
	for path, s := range prev {
		if _, ok := cur[path]; !ok {
			deleted = append(deleted, Event{Path: path, Op: OpDelete, IsDir: s.isDir, At: now})
		}
	}
	sortEvents(changed)
	sortEvents(deleted)
	return append(changed, deleted...)
}
