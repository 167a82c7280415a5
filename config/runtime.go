package config

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"backdrop/video"
)

// Debounce is how long to wait after a change before reloading, so a file
// written in several steps is read once.
const Debounce = time.Second / 10

// Live holds the runtime toggles, reloaded from a JSON file whenever it
// changes. Keys missing from the file keep their defaults.
type Live struct {
	Path     string
	defaults video.Toggles

	lock    sync.RWMutex
	toggles video.Toggles
	loads   int
}

func NewLive(defaults video.Toggles) *Live {
	return &Live{defaults: defaults, toggles: defaults}
}

// DefaultToggles derives the initial toggles from the startup config.
func (c *Config) DefaultToggles() video.Toggles {
	return video.Toggles{
		Filter:         true,
		FlipHorizontal: c.FlipHorizontal,
		FlipVertical:   c.FlipVertical,
		ShowMask:       true,
		ShowBackground: true,
		ShowFPS:        true,
	}
}

// Get is safe to call once per frame.
func (l *Live) Get() video.Toggles {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.toggles
}

// Loads is the number of successful loads.
func (l *Live) Loads() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.loads
}

func (l *Live) load(path string) error {
	t := l.defaults
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&t); err != nil {
		return err
	}
	log.Infof("Loaded runtime toggles: %v", spew.Sdump(t))
	l.lock.Lock()
	l.toggles = t
	l.loads++
	l.lock.Unlock()
	return nil
}

func waitForChange(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-watcher.Errors:
			return err
		case ev := <-watcher.Events:
			if ev.Op == fsnotify.Chmod {
				continue
			}
		}
		break
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(Debounce):
	}
	return ctx.Err()
}

// Watch loads path and keeps reloading it until ctx is done. A file that
// fails to parse leaves the previous toggles in place.
func (l *Live) Watch(ctx context.Context, path string) error {
	if err := l.load(path); err != nil {
		return err
	}
	l.Path = path
	go func() {
		for ctx.Err() == nil {
			if err := waitForChange(ctx, path); err != nil {
				if ctx.Err() == nil {
					log.Errorf("Error waiting for file change: %v", err)
					// The file may be mid-replace.
					time.Sleep(time.Second)
				}
				continue
			}
			if err := l.load(path); err != nil {
				log.Errorf("Failed to load new runtime toggles: %v", err)
			}
		}
	}()
	return nil
}
