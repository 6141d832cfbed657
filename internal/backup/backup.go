// Package backup copies the engine and panel databases into a rotation
// of timestamped files.
package backup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const stampLayout = "2006-01-02_15-04-05"

// Runner copies source databases into dir, keeping the newest retain
// copies per source. A file lock serializes concurrent runs (manual
// trigger racing the daily tick).
type Runner struct {
	dir    string
	retain int
	logger *slog.Logger
	lock   *flock.Flock
	now    func() time.Time
}

func New(dir string, retain int, logger *slog.Logger) *Runner {
	return &Runner{
		dir:    dir,
		retain: retain,
		logger: logger,
		lock:   flock.New(filepath.Join(dir, ".backup.lock")),
		now:    time.Now,
	}
}

// Run backs up the engine database and, when readable, the panel
// database. Returns the created file paths.
func (r *Runner) Run(botDBPath, panelDBPath string) ([]string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: creating %s: %w", r.dir, err)
	}
	if err := r.lock.Lock(); err != nil {
		return nil, fmt.Errorf("backup: acquiring lock: %w", err)
	}
	defer r.lock.Unlock()

	stamp := r.now().Format(stampLayout)
	var created []string

	dst, err := r.copy(botDBPath, "bot_data", stamp)
	if err != nil {
		return nil, err
	}
	created = append(created, dst)

	if panelDBPath != "" {
		dst, err := r.copy(panelDBPath, "x-ui", stamp)
		if err != nil {
			// The panel database may be locked mid-write; the engine
			// backup already succeeded, so log and carry on.
			r.logger.Warn("panel database backup failed", "err", err)
		} else {
			created = append(created, dst)
		}
	}

	for _, prefix := range []string{"bot_data", "x-ui"} {
		if err := r.prune(prefix); err != nil {
			r.logger.Warn("backup rotation failed", "prefix", prefix, "err", err)
		}
	}
	r.logger.Info("backup complete", "files", created)
	return created, nil
}

func (r *Runner) copy(src, prefix, stamp string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("backup: opening %s: %w", src, err)
	}
	defer in.Close()

	dst := filepath.Join(r.dir, fmt.Sprintf("%s_%s.db", prefix, stamp))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("backup: creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("backup: copying %s: %w", src, err)
	}
	return dst, nil
}

// prune removes all but the newest retain copies for one prefix. The
// timestamp format sorts lexicographically.
func (r *Runner) prune(prefix string) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix+"_") && strings.HasSuffix(e.Name(), ".db") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= r.retain {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-r.retain] {
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil {
			return err
		}
	}
	return nil
}
