// Package fetcher executes one story-download attempt by driving the
// FanFicFare command line tool, round-tripping the epub through the calibre
// catalog when one is configured.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/storyfetch/storyfetch/internal/calibre"
	"github.com/storyfetch/storyfetch/internal/retry"
	"github.com/storyfetch/storyfetch/internal/task"
)

// Update modes. They mirror the download tool's behavior switches.
const (
	// ModeUpdate updates existing epubs; forced re-downloads are honored
	// when a task asks for one.
	ModeUpdate = "update"
	// ModeUpdateNoForce updates existing epubs and rejects forced
	// re-download requests.
	ModeUpdateNoForce = "update_no_force"
	// ModeForce re-downloads every story from scratch.
	ModeForce = "force"
)

// ValidModes lists the accepted update modes, for config validation.
var ValidModes = []string{ModeUpdate, ModeUpdateNoForce, ModeForce}

// Config configures a fetcher.
type Config struct {
	// Binary is the FanFicFare executable (default "fanficfare").
	Binary string

	// ConfigDir holds personal.ini / defaults.ini for the tool, if any.
	ConfigDir string

	// Mode is one of the update modes above (default ModeUpdate).
	Mode string

	// DB is the calibre catalog. Nil means epubs are left in WorkDir.
	DB *calibre.DB

	// WorkDir receives downloaded epubs when no catalog is configured
	// (default: os.TempDir()).
	WorkDir string

	Logger *slog.Logger
}

// Fetcher implements the worker executor contract.
type Fetcher struct {
	binary    string
	configDir string
	mode      string
	db        *calibre.DB
	workDir   string
	logger    *slog.Logger
}

// New validates the config and creates a fetcher.
func New(cfg Config) (*Fetcher, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeUpdate
	}
	valid := false
	for _, m := range ValidModes {
		if mode == m {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("unknown update mode %q", cfg.Mode)
	}

	binary := cfg.Binary
	if binary == "" {
		binary = "fanficfare"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{
		binary:    binary,
		configDir: cfg.ConfigDir,
		mode:      mode,
		db:        cfg.DB,
		workDir:   workDir,
		logger:    logger.With("component", "fetcher"),
	}, nil
}

// Execute runs one download attempt and updates the task in place.
func (f *Fetcher) Execute(ctx context.Context, t *task.Task) error {
	if t.Force && f.mode == ModeUpdateNoForce {
		return fmt.Errorf("%s: %w", t.URL, retry.ErrForceNotAllowed)
	}

	tmpDir, err := os.MkdirTemp("", "storyfetch-*")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// Prefer updating the catalog's existing epub so chapter history and
	// metadata carry over.
	target := t.URL
	if f.db != nil {
		existing, err := f.db.SearchURL(ctx, t.URL)
		if err != nil {
			return fmt.Errorf("catalog lookup failed: %w", err)
		}
		if len(existing) > 0 {
			t.CalibreID = existing[0]
			if err := f.db.Export(ctx, t.CalibreID, tmpDir); err != nil {
				return err
			}
			epub, err := findEpub(tmpDir)
			if err != nil {
				return fmt.Errorf("exported book %d: %w", t.CalibreID, err)
			}
			target = epub
		}
	}

	out, runErr := f.runTool(ctx, tmpDir, target, t)
	parsed := parseOutput(out)
	if parsed.Title != "" {
		t.Title = parsed.Title
	}

	switch {
	case parsed.LocalAhead:
		return fmt.Errorf("%s: local epub has more chapters than the source", t.URL)
	case parsed.NoNewChapters:
		return fmt.Errorf("%s: no new chapters", t.URL)
	case runErr != nil:
		return fmt.Errorf("download tool failed for %s: %w", t.URL, runErr)
	}

	epub, err := findEpub(tmpDir)
	if err != nil {
		return fmt.Errorf("download produced no epub for %s: %w", t.URL, err)
	}

	if f.db == nil {
		dst := filepath.Join(f.workDir, filepath.Base(epub))
		if err := os.Rename(epub, dst); err != nil {
			return fmt.Errorf("failed to move epub: %w", err)
		}
		f.logger.Info("epub written", "path", dst, "title", t.Title)
		return nil
	}

	// Swap the updated epub into the catalog: add first, remove the old
	// record only once the add succeeded.
	newID, err := f.db.Add(ctx, epub)
	if err != nil {
		return err
	}
	if t.CalibreID != 0 && t.CalibreID != newID {
		if err := f.db.Remove(ctx, t.CalibreID); err != nil {
			f.logger.Warn("stale catalog entry not removed", "book", t.CalibreID, "error", err)
		}
	}
	t.CalibreID = newID

	return nil
}

// runTool invokes FanFicFare in dir against target (a URL or an exported
// epub path).
func (f *Fetcher) runTool(ctx context.Context, dir, target string, t *task.Task) (string, error) {
	args := []string{"--non-interactive", "--update-cover"}

	force := t.Force || f.mode == ModeForce
	if force {
		args = append(args, "--force")
	} else {
		args = append(args, "--update-epub")
	}
	if f.configDir != "" {
		args = append(args, "--config-dir", f.configDir)
	}
	args = append(args, target)

	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// findEpub returns the single epub in dir.
func findEpub(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.epub"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no epub in %s", dir)
	}
	return matches[0], nil
}
