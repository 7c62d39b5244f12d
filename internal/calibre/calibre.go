// Package calibre shells out to calibredb for catalog operations. The
// catalog file tolerates no concurrent writers, so every command runs under
// one process-wide mutex held for the duration of that command. This lock
// is orthogonal to the coordinator's per-site exclusivity: it protects the
// catalog itself, not any one story's metadata.
package calibre

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// Config configures the calibredb client.
type Config struct {
	// Library is the path or server URL passed as --with-library. Required.
	Library string

	// Binary is the calibredb executable (default "calibredb").
	Binary string

	// Username and Password are forwarded when the library is a content
	// server URL.
	Username string
	Password string

	Logger *slog.Logger
}

// DB is a calibredb client.
type DB struct {
	mu sync.Mutex

	binary   string
	library  string
	username string
	password string
	logger   *slog.Logger
}

// New validates the config and creates a client.
func New(cfg Config) (*DB, error) {
	if cfg.Library == "" {
		return nil, fmt.Errorf("calibre library path is required")
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "calibredb"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DB{
		binary:   binary,
		library:  cfg.Library,
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger.With("component", "calibre"),
	}, nil
}

// HealthCheck verifies calibredb can reach the library.
func (d *DB) HealthCheck(ctx context.Context) error {
	if _, err := d.run(ctx, "list", "--limit", "1"); err != nil {
		return fmt.Errorf("calibre library not reachable: %w", err)
	}
	return nil
}

// SearchURL returns catalog ids whose url identifier matches the story URL.
func (d *DB) SearchURL(ctx context.Context, storyURL string) ([]int, error) {
	out, err := d.run(ctx, "search", fmt.Sprintf("Identifiers:url:%s", storyURL))
	if err != nil {
		// calibredb search exits non-zero when nothing matches.
		if strings.Contains(out, "No books matched") {
			return nil, nil
		}
		return nil, fmt.Errorf("calibre search failed: %w", err)
	}

	return parseSearchOutput(out), nil
}

// parseSearchOutput splits calibredb search's comma-separated id list.
func parseSearchOutput(out string) []int {
	var ids []int
	for _, field := range strings.Split(strings.TrimSpace(out), ",") {
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Export writes book id's files (epub only, no cover or OPF) into dir.
func (d *DB) Export(ctx context.Context, id int, dir string) error {
	_, err := d.run(ctx,
		"export",
		"--dont-save-cover",
		"--dont-write-opf",
		"--single-dir",
		"--to-dir", dir,
		strconv.Itoa(id),
	)
	if err != nil {
		return fmt.Errorf("calibre export of book %d failed: %w", id, err)
	}
	return nil
}

var addedIDs = regexp.MustCompile(`Added book ids:\s*([0-9, ]+)`)

// Add imports an epub and returns the new catalog id.
func (d *DB) Add(ctx context.Context, epubPath string) (int, error) {
	out, err := d.run(ctx, "add", "-d", epubPath)
	if err != nil {
		return 0, fmt.Errorf("calibre add failed: %w", err)
	}

	return parseAddOutput(out)
}

// parseAddOutput extracts the first id from "Added book ids: N".
func parseAddOutput(out string) (int, error) {
	m := addedIDs.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("calibre add reported no book id (output: %s)", strings.TrimSpace(out))
	}
	first := strings.Split(m[1], ",")[0]
	id, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, fmt.Errorf("calibre add returned unparseable id %q", first)
	}
	return id, nil
}

// Remove deletes a book from the catalog.
func (d *DB) Remove(ctx context.Context, id int) error {
	if _, err := d.run(ctx, "remove", strconv.Itoa(id)); err != nil {
		return fmt.Errorf("calibre remove of book %d failed: %w", id, err)
	}
	return nil
}

// run executes one calibredb command under the catalog mutex. Transient
// "database is locked" failures (another calibre process touching the
// library) are retried a few times before giving up.
func (d *DB) run(ctx context.Context, args ...string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	full := append(args, "--with-library", d.library)
	if d.username != "" {
		full = append(full, "--username", d.username, "--password", d.password)
	}

	var output string
	err := retrygo.Do(
		func() error {
			cmd := exec.CommandContext(ctx, d.binary, full...)
			out, err := cmd.CombinedOutput()
			output = string(out)
			if err != nil {
				return fmt.Errorf("calibredb %s: %w (output: %s)", args[0], err, strings.TrimSpace(output))
			}
			return nil
		},
		retrygo.Context(ctx),
		retrygo.Attempts(3),
		retrygo.Delay(500*time.Millisecond),
		retrygo.RetryIf(func(err error) bool {
			return strings.Contains(err.Error(), "database is locked")
		}),
		retrygo.LastErrorOnly(true),
	)

	if err != nil {
		d.logger.Debug("calibredb command failed", "args", args, "error", err)
	}
	return output, err
}
