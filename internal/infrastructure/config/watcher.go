package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
	"github.com/xyz-jphil/ccapis/pkg/safego"
)

// reloadDebounce absorbs the burst of events an editor or atomic-rename
// save produces before the file content has settled.
const reloadDebounce = 200 * time.Millisecond

// PoolWatcher owns the live credential pool and hot-reloads it when the
// credentials file changes. Readers snapshot the pool pointer once per
// request; a reload swaps the pointer and never mutates a published pool.
type PoolWatcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu   sync.RWMutex
	pool *entity.CredentialPool

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewPoolWatcher loads the initial pool from path. A broken credentials
// file at startup is fatal; after startup, broken edits keep the previous
// pool in place.
func NewPoolWatcher(path string, logger *zap.Logger) (*PoolWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials path: %w", err)
	}
	pool, err := LoadAccounts(abs)
	if err != nil {
		return nil, err
	}
	return &PoolWatcher{
		path:     abs,
		debounce: reloadDebounce,
		logger:   logger.With(zap.String("component", "pool-watcher")),
		pool:     pool,
	}, nil
}

// Pool returns the current pool snapshot.
func (w *PoolWatcher) Pool() *entity.CredentialPool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pool
}

// Start watches the credentials file until ctx is done. The parent
// directory is watched rather than the file itself, so atomic-rename saves
// keep working after the original inode disappears.
func (w *PoolWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	safego.Go(w.logger, "pool-watcher", func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.scheduleReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("Watcher error", zap.Error(err))
			}
		}
	})

	w.logger.Info("Watching credentials file", zap.String("path", w.path))
	return nil
}

// scheduleReload arms the debounce timer, pushing it out again if more
// events arrive before it fires.
func (w *PoolWatcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *PoolWatcher) reload() {
	pool, err := LoadAccounts(w.path)
	if err != nil {
		w.logger.Error("Credentials reload failed, keeping previous pool", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.pool = pool
	w.mu.Unlock()

	w.logger.Info("Credential pool reloaded",
		zap.Int("credentials", pool.Len()),
		zap.Int("active", len(pool.Active())),
	)
}
