package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// notifySubscription adapts a recursive fsnotify watch.
type notifySubscription struct {
	fsw    *fsnotify.Watcher
	filter *filter
	events chan Event
	errs   chan error
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newNotifySubscription(root string, f *filter) (*notifySubscription, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	s := &notifySubscription{
		fsw:    fsw,
		filter: f,
		events: make(chan Event, 256),
		errs:   make(chan error, 1),
		stop:   make(chan struct{}),
	}
	if err := s.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *notifySubscription) Kind() string         { return "fsnotify" }
func (s *notifySubscription) Events() <-chan Event { return s.events }
func (s *notifySubscription) Errors() <-chan error { return s.errs }

func (s *notifySubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.fsw.Close()
		s.wg.Wait()
	})
	return err
}

// addTree watches dir and every directory below it that is not excluded.
func (s *notifySubscription) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && s.filter.skip(path, true) {
			return filepath.SkipDir
		}
		return s.fsw.Add(path)
	})
}

func (s *notifySubscription) loop() {
	defer s.wg.Done()
	defer close(s.events)
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			select {
			case s.errs <- err:
			default:
			}
		}
	}
}

func (s *notifySubscription) handle(ev fsnotify.Event) {
	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if s.filter.skip(ev.Name, isDir) {
		return
	}

	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
		if isDir {
			if err := s.addTree(ev.Name); err != nil {
				slog.Warn("watcher_add_failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
		}
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as a Create.
		op = OpDelete
	default:
		return
	}

	out := classify(Event{Path: ev.Name, Op: op, IsDir: isDir, At: time.Now()})
	select {
	case s.events <- out:
	case <-s.stop:
	}
}
