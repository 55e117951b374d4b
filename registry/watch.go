package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 100 * time.Millisecond

// Store holds the current Snapshot and reloads it when the files change.
type Store struct {
	accountsPath string
	targetsPath  string
	logger       *slog.Logger

	mu       sync.RWMutex
	snap     *Snapshot
	onReload []func(*Snapshot)
}

// NewStore loads the files once.
func NewStore(accountsPath, targetsPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{accountsPath: accountsPath, targetsPath: targetsPath, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Snapshot)) {
	s.mu.Lock()
	s.onReload = append(s.onReload, fn)
	s.mu.Unlock()
}

// Reload rereads the files. On error the previous snapshot is kept.
func (s *Store) Reload() error {
	snap, err := Load(s.accountsPath, s.targetsPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = snap
	cbs := make([]func(*Snapshot), len(s.onReload))
	copy(cbs, s.onReload)
	s.mu.Unlock()

	for _, fn := range cbs {
		fn(snap)
	}
	return nil
}

// Watch reloads on writes to either file until ctx is done. Rewrites are
// debounced since the owner may write in several steps.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: watcher: %w", err)
	}

	names := map[string]bool{filepath.Base(s.accountsPath): true}
	dirs := map[string]bool{filepath.Dir(s.accountsPath): true}
	if s.targetsPath != "" {
		names[filepath.Base(s.targetsPath)] = true
		dirs[filepath.Dir(s.targetsPath)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return fmt.Errorf("registry: watch %s: %w", d, err)
		}
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !names[filepath.Base(ev.Name)] {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					if err := s.Reload(); err != nil {
						s.logger.Warn("registry: reload failed, keeping previous", "error", err)
						return
					}
					s.logger.Info("registry: reloaded", "file", ev.Name)
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("registry: watcher error", "error", err)
			}
		}
	}()
	return nil
}
