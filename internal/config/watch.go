package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the on-disk config file for changes and re-parses the
// router section (internal/config/router.go) on every write, handing the
// parsed table (or the parse error) to the callback passed to Start. It
// does not apply the new values to running routers itself. Provider
// credentials and the rest of Config are not re-read here.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	configPath string
}

// NewWatcher opens an fsnotify watch on the directory containing
// configPath. Call Start to begin dispatching, and Close when done.
func NewWatcher(configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(configPath)); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return &Watcher{fsWatcher: fsWatcher, configPath: configPath}, nil
}

// Start runs the watch loop in a goroutine, invoking onChange with the
// freshly reloaded Routers config each time configPath is written.
// Events are debounced by 250ms — editors frequently emit several
// write/rename events for a single save.
func (w *Watcher) Start(onChange func(Routers, error)) {
	go w.run(onChange)
}

func (w *Watcher) run(onChange func(Routers, error)) {
	var pending *time.Timer
	base := filepath.Base(w.configPath)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				rc, err := reloadRouters(w.configPath)
				onChange(rc, err)
			})
		case _, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}
