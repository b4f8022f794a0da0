// Package watcher ingests files dropped into the uploads directory.
//
// Layout is uploads/<user>/<document>; a file created or modified under a
// user's directory is ingested for that user after a debounce window, so a
// file still being written is picked up once, when it settles.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ivansantander-hub/docuchat/internal/ingest"
)

// DefaultDebounce is the settle window applied to file events.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the uploads directory tree.
type Watcher struct {
	dir      string
	pipeline *ingest.Pipeline
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher over dir, ingesting through pipeline.
func New(dir string, pipeline *ingest.Pipeline, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		pipeline: pipeline,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}
}

// Run watches until the context is cancelled. Existing user directories are
// watched immediately; new ones are picked up as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			userDir := filepath.Join(w.dir, entry.Name())
			if err := fsw.Add(userDir); err != nil {
				w.logger.Warn("failed to watch user directory",
					slog.String("dir", entry.Name()), slog.String("error", err.Error()))
				continue
			}
			w.scanUserDir(ctx, userDir)
		}
	}

	w.logger.Info("watching uploads directory", slog.String("dir", w.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	// A new user directory directly under the root gets its own watch.
	if info.IsDir() {
		if filepath.Dir(event.Name) == filepath.Clean(w.dir) {
			if err := fsw.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch user directory",
					slog.String("dir", event.Name), slog.String("error", err.Error()))
				return
			}
			// Files written between mkdir and watch installation never
			// produce an event; pick them up now.
			w.scanUserDir(ctx, event.Name)
		}
		return
	}

	userID, document, ok := w.splitUpload(event.Name)
	if !ok {
		return
	}
	w.schedule(ctx, event.Name, userID, document)
}

// splitUpload maps an absolute path onto (user, document). Only plain text
// uploads are ingested; hidden and temporary files are skipped.
func (w *Watcher) splitUpload(path string) (string, string, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return "", "", false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	userID, document := parts[0], parts[1]
	if strings.HasPrefix(document, ".") {
		return "", "", false
	}
	switch strings.ToLower(filepath.Ext(document)) {
	case ".txt", ".md", ".markdown":
		return userID, document, true
	default:
		return "", "", false
	}
}

// scanUserDir schedules any eligible files already present in a user
// directory.
func (w *Watcher) scanUserDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("failed to scan user directory",
			slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if userID, document, ok := w.splitUpload(path); ok {
			w.schedule(ctx, path, userID, document)
		}
	}
}

// schedule (re)arms the debounce timer for a path.
func (w *Watcher) schedule(ctx context.Context, path, userID, document string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingestFile(ctx, path, userID, document)
	})
}

func (w *Watcher) ingestFile(ctx context.Context, path, userID, document string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("failed to read upload",
			slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	if _, err := w.pipeline.Ingest(ctx, userID, document, string(data)); err != nil {
		w.logger.Error("failed to ingest upload",
			slog.String("user", userID),
			slog.String("document", document),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("ingested upload",
		slog.String("user", userID),
		slog.String("document", document))
}
