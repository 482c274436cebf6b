package backup

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is one uploaded copy of the question database held by a Remote.
type Snapshot struct {
	Key      string
	Size     int64
	StoredAt time.Time
}

// Remote is an offsite destination for database snapshots. Snapshots are
// stored under service-scoped keys so one bucket can hold backups from
// several deployments without collisions.
type Remote interface {
	// Upload copies the snapshot file at localPath offsite and returns the
	// key it was stored under.
	Upload(ctx context.Context, localPath string) (key string, err error)

	// Snapshots lists the remote's snapshots, newest first.
	Snapshots(ctx context.Context) ([]Snapshot, error)

	// Delete removes the snapshot stored under key.
	Delete(ctx context.Context, key string) error

	// Name identifies the remote in logs and backup locations (e.g. "s3").
	Name() string
}

// TrimRemote drops the oldest remote snapshots until at most retain are
// left, and reports how many were dropped. retain <= 0 keeps everything.
func TrimRemote(ctx context.Context, r Remote, retain int) (int, error) {
	if retain <= 0 {
		return 0, nil
	}

	snaps, err := r.Snapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list remote snapshots: %w", err)
	}
	if len(snaps) <= retain {
		return 0, nil
	}

	dropped := 0
	for _, s := range snaps[retain:] {
		if err := r.Delete(ctx, s.Key); err != nil {
			return dropped, fmt.Errorf("drop snapshot %s: %w", s.Key, err)
		}
		dropped++
	}
	return dropped, nil
}
