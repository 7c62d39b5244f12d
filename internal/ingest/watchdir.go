package ingest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchDir harvests URLs from files dropped into a directory: one URL per
// line, a leading "force " marks a forced re-download. Files are removed
// once consumed.
type WatchDir struct {
	dir    string
	logger *slog.Logger
}

// NewWatchDir creates a watch-dir source. The directory is created if it
// doesn't exist.
func NewWatchDir(dir string, logger *slog.Logger) (*WatchDir, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WatchDir{
		dir:    dir,
		logger: logger.With("source", "watchdir", "dir", dir),
	}, nil
}

// Name implements Source.
func (w *WatchDir) Name() string { return "watchdir" }

// Run implements Source. Files already present at startup are consumed
// first, then fsnotify events drive the rest.
func (w *WatchDir) Run(ctx context.Context, emit EmitFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	// Catch up on files dropped while we weren't running.
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to scan watch directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.consume(ctx, filepath.Join(w.dir, entry.Name()), emit)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			// CloseWrite isn't delivered on every platform; Create+Write
			// covers the common drop patterns (mv in, cp in, echo >).
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			w.consume(ctx, event.Name, emit)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// consume reads URLs out of one file and removes it.
func (w *WatchDir) consume(ctx context.Context, path string, emit EmitFunc) {
	f, err := os.Open(path)
	if err != nil {
		w.logger.Warn("failed to open drop file", "path", path, "error", err)
		return
	}

	var emitted int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		force := false
		if rest, ok := strings.CutPrefix(line, "force "); ok {
			force = true
			line = strings.TrimSpace(rest)
		}

		if err := emit(ctx, line, force); err != nil {
			w.logger.Warn("failed to ingest URL", "url", line, "error", err)
			continue
		}
		emitted++
	}
	if err := scanner.Err(); err != nil {
		w.logger.Warn("failed reading drop file", "path", path, "error", err)
	}
	f.Close()

	if err := os.Remove(path); err != nil {
		w.logger.Warn("failed to remove consumed drop file", "path", path, "error", err)
	}
	w.logger.Debug("drop file consumed", "path", path, "urls", emitted)
}
