package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore keeps one JSON file per snapshot in a directory. Suited to
// single-node deployments and tests; the SQL store is the shared backend.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(snap *Snapshot) string {
	name := fmt.Sprintf("%s-%020d-%s.json", snap.Type, snap.Sequence, snap.ID)
	return filepath.Join(s.dir, name)
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(snap), data, 0600)
}

// LoadLatest implements Store.
func (s *FileStore) LoadLatest(ctx context.Context, snapshotType string) (*Snapshot, error) {
	snaps, err := s.List(ctx, snapshotType)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrNoSnapshot
	}
	return snaps[0], nil
}

// List implements Store, newest first.
func (s *FileStore) List(ctx context.Context, snapshotType string) ([]*Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	result := make([]*Snapshot, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), snapshotType+"-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("corrupt snapshot file %s: %w", entry.Name(), err)
		}
		result = append(result, &snap)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Sequence != result[j].Sequence {
			return result[i].Sequence > result[j].Sequence
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), "-"+id+".json") {
			return os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}
	return nil
}
