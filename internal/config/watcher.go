package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a set of config file paths and signals on Changed
// whenever one of them is written or created. Missing paths (not yet
// created) are watched at their parent directory so a file appearing
// later is still caught, mirroring how Load tolerates missing paths.
type Watcher struct {
	fsw     *fsnotify.Watcher
	changed chan struct{}
	done    chan struct{}
}

// NewWatcher starts watching paths and returns a Watcher whose Changed
// channel receives a value (non-blocking, coalesced) after any write or
// create event on one of them.
func NewWatcher(paths []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if dir == "" {
			continue
		}
		_ = fsw.Add(dir)
	}

	w := &Watcher{
		fsw:     fsw,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run(paths)
	return w, nil
}

func (w *Watcher) run(paths []string) {
	watched := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		watched[p] = struct{}{}
	}

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if _, tracked := watched[ev.Name]; !tracked {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case w.changed <- struct{}{}:
			default:
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Changed signals (coalesced, non-blocking send) on every watched-file
// write or create. The caller treats a receive as "emit ReloadConfig".
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
