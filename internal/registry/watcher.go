package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"mt_copier/internal/ledger"
	"mt_copier/internal/models"
)

// DiscoveryFunc вызывается для каждого нового аккаунта
type DiscoveryFunc func(acc models.Account)

// Watcher следит за директорией ledger файлов и регистрирует новые аккаунты,
// которые EA создают напрямую, минуя HTTP
type Watcher struct {
	registry *Registry
	store    *ledger.Store
	onNew    DiscoveryFunc
	logger   *slog.Logger
}

// NewWatcher создает наблюдатель за директорией store
func NewWatcher(registry *Registry, store *ledger.Store, onNew DiscoveryFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		registry: registry,
		store:    store,
		onNew:    onNew,
		logger:   logger,
	}
}

// Run блокируется до отмены ctx
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fs watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.store.Dir()); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.store.Dir(), err)
	}

	w.logger.Info("Watching ledger directory", slog.String("dir", w.store.Dir()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Ledger watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	id, ok := w.store.IDFromPath(event.Name)
	if !ok {
		return
	}

	doc, err := w.store.Read(id)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			w.logger.Debug("Watcher failed to read ledger", slog.String("account", id), slog.Any("error", err))
		}
		return
	}

	acc, created := w.registry.Discover(id, doc)
	if at, err := w.store.Activity(id); err == nil {
		w.registry.SetActivity(id, at)
	}

	if created && w.onNew != nil {
		w.onNew(acc)
	}
}
