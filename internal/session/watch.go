package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 200 * time.Millisecond

// Watcher signals when session documents or the pointer change on disk.
// Bursts of events collapse into one notification.
type Watcher struct {
	fs      *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	delay   time.Duration
	once    sync.Once
}

// Watch observes the session directory and its parent (for the pointer file).
func Watch(store *Store, delay time.Duration) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("session: watch: store is required")
	}
	if delay <= 0 {
		delay = defaultWatchDebounce
	}
	if err := store.EnsureDir(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("session: watch: %w", err)
	}
	for _, dir := range []string{store.Dir(), filepath.Dir(store.PointerPath())} {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("session: watch %s: %w", dir, err)
		}
	}
	w := &Watcher{
		fs:      fsw,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
		delay:   delay,
	}
	go w.loop(filepath.Base(store.PointerPath()))
	return w, nil
}

// Changes delivers one value per settled burst of changes. It is closed once
// the watcher stops.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) loop(pointerName string) {
	defer close(w.changes)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if name != pointerName && !strings.HasSuffix(name, ".json") {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.delay)
			fire = timer.C
		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}
