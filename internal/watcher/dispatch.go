package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
)

// Trigger runs an incremental pass over subtree, an absolute path at or
// below the watched root.
type Trigger func(ctx context.Context, subtree string) error

// Dispatcher turns debounced batches into passes.
type Dispatcher struct {
	root          string
	trigger       Trigger
	ignoreChanged func()
}

// NewDispatcher creates a Dispatcher for root. ignoreChanged, if set, runs
// before a pass whose batch touched an ignore file.
func NewDispatcher(root string, trigger Trigger, ignoreChanged func()) *Dispatcher {
	return &Dispatcher{root: filepath.Clean(root), trigger: trigger, ignoreChanged: ignoreChanged}
}

// Dispatch runs one pass covering every event in batch. Failures are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []Event) {
	if len(batch) == 0 || ctx.Err() != nil {
		return
	}
	for _, ev := range batch {
		if ev.Op == OpIgnoreChange && d.ignoreChanged != nil {
			d.ignoreChanged()
			break
		}
	}

	subtree := CommonSubtree(d.root, batch)
	slog.Debug("watch_dispatch",
		slog.String("root", d.root),
		slog.String("subtree", subtree),
		slog.Int("events", len(batch)))

	if err := d.trigger(ctx, subtree); err != nil && ctx.Err() == nil {
		slog.Warn("watch_pass_failed",
			slog.String("root", d.root),
			slog.String("subtree", subtree),
			slog.String("error", err.Error()))
	}
}

// CommonSubtree returns the deepest path that covers every event. An ignore
// file covers its whole directory. Paths outside root collapse to root.
func CommonSubtree(root string, batch []Event) string {
	root = filepath.Clean(root)
	var common []string
	for i, ev := range batch {
		p := filepath.Clean(ev.Path)
		if ev.Op == OpIgnoreChange {
			p = filepath.Dir(p)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return root
		}
		var parts []string
		if rel != "." {
			parts = strings.Split(rel, string(filepath.Separator))
		}
		if i == 0 {
			common = parts
			continue
		}
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}
	if len(common) == 0 {
		return root
	}
	return filepath.Join(append([]string{root}, common...)...)
}

func sortEvents(evs []Event) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].Path < evs[j].Path })
}
