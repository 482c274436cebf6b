package backup

import (
	"context"
	"testing"
	"time"
)

// memRemote holds snapshots in memory and records deletions.
type memRemote struct {
	snaps   []Snapshot
	deleted []string
}

func (m *memRemote) Name() string { return "mem" }

func (m *memRemote) Upload(_ context.Context, _ string) (string, error) {
	return "mem-key", nil
}

func (m *memRemote) Snapshots(_ context.Context) ([]Snapshot, error) {
	return m.snaps, nil
}

func (m *memRemote) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	return nil
}

func TestTrimRemote_DropsOldestBeyondRetention(t *testing.T) {
	remote := &memRemote{
		snaps: []Snapshot{
			{Key: "dumb-questions-5.db", StoredAt: time.Now()},
			{Key: "dumb-questions-4.db", StoredAt: time.Now().Add(-1 * time.Hour)},
			{Key: "dumb-questions-3.db", StoredAt: time.Now().Add(-2 * time.Hour)},
			{Key: "dumb-questions-2.db", StoredAt: time.Now().Add(-3 * time.Hour)},
			{Key: "dumb-questions-1.db", StoredAt: time.Now().Add(-4 * time.Hour)},
		},
	}

	dropped, err := TrimRemote(context.Background(), remote, 3)
	if err != nil {
		t.Fatalf("TrimRemote: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if remote.deleted[0] != "dumb-questions-2.db" || remote.deleted[1] != "dumb-questions-1.db" {
		t.Fatalf("wrong snapshots dropped: %v", remote.deleted)
	}
}

func TestTrimRemote_UnlimitedRetention(t *testing.T) {
	remote := &memRemote{
		snaps: []Snapshot{{Key: "s1"}, {Key: "s2"}},
	}
	dropped, err := TrimRemote(context.Background(), remote, 0)
	if err != nil {
		t.Fatal(err)
	}
	if dropped != 0 {
		t.Fatalf("expected 0 dropped with unlimited retention, got %d", dropped)
	}
}

func TestTrimRemote_FewerThanRetention(t *testing.T) {
	remote := &memRemote{
		snaps: []Snapshot{{Key: "s1"}},
	}
	dropped, err := TrimRemote(context.Background(), remote, 5)
	if err != nil {
		t.Fatal(err)
	}
	if dropped != 0 {
		t.Fatalf("expected 0 dropped, got %d", dropped)
	}
}

func TestNormalizePrefix(t *testing.T) {
	for in, want := range map[string]string{
		"":                     defaultS3Prefix,
		"team/backups":         "team/backups/",
		"team/backups/":        "team/backups/",
		"dumb-questions/prod/": "dumb-questions/prod/",
	} {
		if got := normalizePrefix(in); got != want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
