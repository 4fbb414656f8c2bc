package pn53xconf

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a main config file and its devices.d directory whenever
// either changes on disk, handing the merged result to Updates.
type Watcher struct {
	confPath string
	devDir   string

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	current *Config

	Updates chan *Config
	Errors  chan error

	done chan struct{}
}

// NewWatcher loads confPath and devDir once, starts watching both for
// changes, and returns the combined result as the Watcher's initial state.
func NewWatcher(confPath, devDir string) (*Watcher, error) {
	cfg, err := Load(confPath)
	if err != nil {
		return nil, err
	}
	if err := LoadDir(devDir, cfg); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("pn53xconf: new watcher: %w", err)
	}
	if err := fw.Add(confPath); err != nil {
		fw.Close()
		return nil, fmt.Errorf("pn53xconf: watch %s: %w", confPath, err)
	}
	if err := fw.Add(devDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("pn53xconf: watch %s: %w", devDir, err)
	}

	w := &Watcher{
		confPath: confPath,
		devDir:   devDir,
		watcher:  fw,
		current:  cfg,
		Updates:  make(chan *Config, 1),
		Errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) loop() {
	for {
		select {
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			cfg, err := Load(w.confPath)
			if err != nil {
				w.Errors <- err
				continue
			}
			if err := LoadDir(w.devDir, cfg); err != nil {
				w.Errors <- err
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			select {
			case w.Updates <- cfg:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.Errors <- err
		case <-w.done:
			return
		}
	}
}

// Close stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
