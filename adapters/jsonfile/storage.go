package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"wellnesskit/adapters/memory"
	"wellnesskit/core"
)

// Store persists the full state to a single JSON file after every write.
// Suitable for demos and small deployments. Reads are served from memory.
type Store struct {
	*memory.Store
	path string
	mu   sync.Mutex
}

func New(path string) (*Store, error) {
	s := &Store{Store: memory.New(), path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	s.Store.Restore(snap)
	return nil
}

// persist writes through a temp file and rename. A failed write leaves the
// in-memory state ahead of the file until the next successful write.
func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.MarshalIndent(s.Store.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) PutActivity(ctx context.Context, a core.Activity) (core.Activity, error) {
	out, err := s.Store.PutActivity(ctx, a)
	if err != nil {
		return core.Activity{}, err
	}
	return out, s.persist()
}

func (s *Store) RecordActivity(ctx context.Context, rec core.ActivityRecord, bonusXP int64) (core.ActivityRecord, error) {
	out, err := s.Store.RecordActivity(ctx, rec, bonusXP)
	if err != nil {
		return core.ActivityRecord{}, err
	}
	return out, s.persist()
}

func (s *Store) UpsertByCode(ctx context.Context, def core.Definition) (core.Achievement, error) {
	existing, err := s.Store.FindByCode(ctx, def.Code)
	if err != nil {
		return core.Achievement{}, err
	}
	out, err := s.Store.UpsertByCode(ctx, def)
	if err != nil || existing != nil {
		return out, err
	}
	return out, s.persist()
}

func (s *Store) CreateUnlock(ctx context.Context, user core.UserID, achievementID int64, metadata map[string]any) (core.Unlock, error) {
	out, err := s.Store.CreateUnlock(ctx, user, achievementID, metadata)
	if err != nil {
		return core.Unlock{}, err
	}
	// an unlock the file never saw must stay earnable
	if err := s.persist(); err != nil {
		s.Store.DeleteUnlock(user, achievementID)
		return core.Unlock{}, err
	}
	return out, nil
}
