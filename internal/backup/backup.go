// Package backup copies the wallet's local store to and from Cloud Storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dvloznov/sheets-wallet/internal/logger"
)

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = 1

// Snapshot is the JSON document stored in the bucket.
type Snapshot struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"createdAt"`
	Data      map[string]string `json:"data"`
}

// Source produces and accepts raw store contents. *wallet.Service
// implements it.
type Source interface {
	Export(ctx context.Context) (map[string]string, error)
	Import(ctx context.Context, data map[string]string) error
}

// ObjectStorage reads and writes whole objects.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, object, contentType string, r io.Reader) error
	Download(ctx context.Context, bucket, object string) ([]byte, error)
}

// Location is a parsed gs:// URI.
type Location struct {
	Bucket string
	Object string
}

func (l Location) String() string {
	return "gs://" + l.Bucket + "/" + l.Object
}

// ParseURI parses gs://bucket/path. The object path may be empty.
func ParseURI(uri string) (Location, error) {
	trimmed, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return Location{}, fmt.Errorf("invalid GCS URI: %s", uri)
	}
	bucket, object, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}
	return Location{Bucket: bucket, Object: object}, nil
}

// Manager writes and restores snapshots.
type Manager struct {
	source  Source
	storage ObjectStorage
	now     func() time.Time
}

// NewManager creates a Manager. now defaults to time.Now.
func NewManager(source Source, storage ObjectStorage, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{source: source, storage: storage, now: now}
}

// Backup uploads a snapshot. A uri naming a .json object is written as is;
// otherwise it is treated as a prefix and a timestamped name is appended.
// It returns where the snapshot was written.
func (m *Manager) Backup(ctx context.Context, uri string) (Location, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return Location{}, fmt.Errorf("Backup: %w", err)
	}

	created := m.now().UTC()
	if !strings.HasSuffix(loc.Object, ".json") {
		name := "wallet-" + created.Format("20060102T150405Z") + ".json"
		loc.Object = path.Join(loc.Object, name)
	}

	data, err := m.source.Export(ctx)
	if err != nil {
		return Location{}, fmt.Errorf("Backup: export: %w", err)
	}

	body, err := json.MarshalIndent(Snapshot{Version: SnapshotVersion, CreatedAt: created, Data: data}, "", "  ")
	if err != nil {
		return Location{}, fmt.Errorf("Backup: marshal snapshot: %w", err)
	}

	if err := m.storage.Upload(ctx, loc.Bucket, loc.Object, "application/json", bytes.NewReader(body)); err != nil {
		return Location{}, fmt.Errorf("Backup: upload %s: %w", loc, err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("uri", loc.String()).
		Int("keys", len(data)).
		Int("bytes", len(body)).
		Msg("Backup written")
	return loc, nil
}

// Restore downloads the snapshot at uri and replaces the local store with it.
func (m *Manager) Restore(ctx context.Context, uri string) (*Snapshot, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Restore: %w", err)
	}
	if loc.Object == "" {
		return nil, fmt.Errorf("Restore: invalid GCS URI (no object path): %s", uri)
	}

	body, err := m.storage.Download(ctx, loc.Bucket, loc.Object)
	if err != nil {
		return nil, fmt.Errorf("Restore: download %s: %w", loc, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("Restore: parse snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("Restore: unsupported snapshot version %d", snap.Version)
	}
	if snap.Data == nil {
		snap.Data = map[string]string{}
	}

	if err := m.source.Import(ctx, snap.Data); err != nil {
		return nil, fmt.Errorf("Restore: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("uri", loc.String()).Int("keys", len(snap.Data)).Msg("Backup restored")
	return &snap, nil
}
