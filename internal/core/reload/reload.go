// Package reload loads policy files and hot-reloads them on change.
//
// A loaded policy is an immutable registry. Reloading never mutates the
// registry in place: the watcher re-parses the file, builds a fresh registry,
// and swaps it atomically, so in-flight dispatches keep the registry they
// started with and loading never interleaves with querying.
package reload

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/quillpolicy/quill/internal/parser"
	"github.com/quillpolicy/quill/internal/rules"
)

// Store holds the current registry behind an atomic pointer.
type Store struct {
	current atomic.Pointer[rules.Registry]
}

// NewStore creates a store holding reg.
func NewStore(reg *rules.Registry) *Store {
	s := &Store{}
	s.current.Store(reg)
	return s
}

// Registry returns the currently loaded registry.
func (s *Store) Registry() *rules.Registry {
	return s.current.Load()
}

// Swap atomically replaces the registry.
func (s *Store) Swap(reg *rules.Registry) {
	s.current.Store(reg)
}

// LoadPolicyFile parses a policy file into a fresh registry.
func LoadPolicyFile(path string, logger *zap.Logger) (*rules.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	parsed, err := parser.ParsePolicy(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	reg := rules.NewRegistry(logger)
	for _, r := range parsed {
		if _, err := reg.Insert(r); err != nil {
			return nil, fmt.Errorf("failed to load rule %s at line %d: %w", r.Name, r.Pos.Line, err)
		}
	}
	return reg, nil
}

// Watcher rebuilds the registry whenever the policy file changes. A failed
// parse keeps the previous registry and logs the error.
type Watcher struct {
	path    string
	store   *Store
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching the policy file. Close releases the watch.
func NewWatcher(path string, store *Store, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		store:   store,
		logger:  logger,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
			// Editors that replace the file drop the watch; re-add so
			// the next save is still seen.
			if ev.Has(fsnotify.Create) {
				_ = w.watcher.Add(w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	reg, err := LoadPolicyFile(w.path, w.logger)
	if err != nil {
		w.logger.Error("policy reload failed; keeping previous policy",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.store.Swap(reg)
	w.logger.Info("policy reloaded",
		zap.String("path", w.path),
		zap.Int("predicates", reg.Predicates()),
	)
}

// Close stops watching and waits for the run loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
