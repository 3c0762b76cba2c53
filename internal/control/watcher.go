// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_control

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rapidaai/recorder/pkg/commons"
)

// StopMarkerName is the file another process drops into a session's output
// directory to request a stop. The marker is the side channel of last
// resort: it works across process boundaries with nothing but a shared
// filesystem.
const StopMarkerName = "stop.marker"

// WriteStopMarker drops the stop marker into dir. Idempotent: overwriting an
// existing marker is a repeated stop request and changes nothing.
func WriteStopMarker(dir string) error {
	path := filepath.Join(dir, StopMarkerName)
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write stop marker %s: %w", path, err)
	}
	return nil
}

// StopMarkerExists reports whether dir currently holds the marker.
func StopMarkerExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, StopMarkerName))
	return err == nil
}

// StopWatcher watches one session directory for the stop marker. It reacts
// to filesystem notifications when the platform delivers them and polls at a
// bounded interval regardless, so a marker is never missed on filesystems
// where fsnotify is unreliable (network mounts, some containers).
type StopWatcher struct {
	logger  commons.Logger
	dir     string
	poll    time.Duration
	c       chan struct{}
	done    chan struct{}
	once    sync.Once
	fired   sync.Once
	watcher *fsnotify.Watcher
}

// NewStopWatcher starts watching dir. The returned watcher fires C exactly
// once, the first time the marker is observed.
func NewStopWatcher(logger commons.Logger, dir string, poll time.Duration) (*StopWatcher, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	w := &StopWatcher{
		logger: logger,
		dir:    dir,
		poll:   poll,
		c:      make(chan struct{}),
		done:   make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("stop watcher: fsnotify unavailable, polling only: %v", err)
	} else if err := fsw.Add(dir); err != nil {
		logger.Warnf("stop watcher: cannot watch %s, polling only: %v", dir, err)
		fsw.Close()
	} else {
		w.watcher = fsw
	}

	go w.run()
	return w, nil
}

// C is closed once when the stop marker appears.
func (w *StopWatcher) C() <-chan struct{} {
	return w.c
}

// Close stops watching. Idempotent.
func (w *StopWatcher) Close() {
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *StopWatcher) run() {
	// The marker may predate the watcher.
	if w.check() {
		return
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if w.watcher != nil {
		events = w.watcher.Events
		errs = w.watcher.Errors
	}

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) == StopMarkerName && event.Op.Has(fsnotify.Create|fsnotify.Write) {
				if w.check() {
					return
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warnf("stop watcher: fsnotify error on %s: %v", w.dir, err)
		case <-ticker.C:
			if w.check() {
				return
			}
		}
	}
}

func (w *StopWatcher) check() bool {
	if !StopMarkerExists(w.dir) {
		return false
	}
	w.fired.Do(func() {
		w.logger.Infof("stop watcher: marker observed in %s", w.dir)
		close(w.c)
	})
	return true
}
