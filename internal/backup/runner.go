package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupFilePrefix = "dumb-questions-"

// DatabaseBackupper produces a consistent snapshot of the database at destPath.
type DatabaseBackupper interface {
	Backup(ctx context.Context, destPath string) error
}

// Runner performs a single backup cycle: snapshot the database into the local
// backup directory, optionally upload to an offsite remote, then apply the
// retention policy on both sides. The mutex keeps scheduled and on-demand
// runs from overlapping.
type Runner struct {
	db     DatabaseBackupper
	remote Remote // nil = local-only backups
	dir    string
	keep   int

	mu sync.Mutex
}

// NewRunner creates a backup runner. dir must exist and be writable.
// keep <= 0 disables retention pruning.
func NewRunner(db DatabaseBackupper, remote Remote, dir string, keep int) *Runner {
	return &Runner{db: db, remote: remote, dir: dir, keep: keep}
}

// RunOnce executes one backup cycle and returns the backup location and size.
func (r *Runner) RunOnce(ctx context.Context) (string, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := backupFilePrefix + time.Now().UTC().Format("20060102T150405Z") + ".db"
	localPath := filepath.Join(r.dir, name)

	if err := r.db.Backup(ctx, localPath); err != nil {
		return "", 0, fmt.Errorf("database snapshot: %w", err)
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("stat backup file: %w", err)
	}
	size := fi.Size()
	location := localPath

	if r.remote != nil {
		key, err := r.remote.Upload(ctx, localPath)
		if err != nil {
			return "", 0, err
		}
		location = r.remote.Name() + ":" + key

		if dropped, err := TrimRemote(ctx, r.remote, r.keep); err != nil {
			slog.Warn("remote snapshot trimming failed", "remote", r.remote.Name(), "error", err)
		} else if dropped > 0 {
			slog.Info("trimmed remote snapshots", "remote", r.remote.Name(), "count", dropped)
		}
	}

	if err := r.pruneLocal(); err != nil {
		slog.Warn("local backup pruning failed", "dir", r.dir, "error", err)
	}

	slog.Info("backup complete", "location", location, "size_bytes", size)
	return location, size, nil
}

// pruneLocal removes local snapshot files beyond the retention count,
// oldest first.
func (r *Runner) pruneLocal() error {
	if r.keep <= 0 {
		return nil
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	type localBackup struct {
		path    string
		modTime time.Time
	}
	var backups []localBackup
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupFilePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, localBackup{
			path:    filepath.Join(r.dir, e.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	for _, b := range backups[min(r.keep, len(backups)):] {
		if err := os.Remove(b.path); err != nil {
			return err
		}
	}
	return nil
}
