package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/warden/internal/process"
)

// JSONStore keeps the snapshot as a single JSON document, rewritten
// atomically (temp file + rename) on every save.
type JSONStore struct {
	path string
}

type snapshot struct {
	SavedAt time.Time        `json:"saved_at"`
	Records []process.Record `json:"records"`
}

func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("json store: path is required")
	}
	return &JSONStore{path: path}, nil
}

// EnsureSchema creates the parent directory.
func (s *JSONStore) EnsureSchema(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("json store: create dir: %w", err)
		}
	}
	return nil
}

func (s *JSONStore) Save(ctx context.Context, recs []process.Record) error {
	snap := snapshot{SavedAt: time.Now().UTC(), Records: recs}
	if snap.Records == nil {
		snap.Records = []process.Record{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("json store: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("json store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("json store: rename: %w", err)
	}
	return nil
}

func (s *JSONStore) Load(ctx context.Context) ([]process.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("json store: read: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("json store: corrupt snapshot %s: %w", s.path, err)
	}
	return snap.Records, nil
}

func (s *JSONStore) Close() error { return nil }
