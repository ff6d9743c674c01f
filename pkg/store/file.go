package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"urgent-alert-relay/pkg/models"
)

const lockFileName = ".alerts.lock"

// FileStore keeps each slot in its own JSON file. Every read-modify-write runs
// under an advisory file lock so the alert UI process and the host application
// never interleave a take with a resolve.
type FileStore struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	return &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

func (s *FileStore) payloadPath(kind models.Kind) string {
	return filepath.Join(s.dir, "payload-"+string(kind)+".json")
}

func (s *FileStore) handoffPath(kind models.Kind) string {
	return filepath.Join(s.dir, "handoff-"+string(kind)+".json")
}

func (s *FileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

func (s *FileStore) SavePayload(ctx context.Context, payload models.AlertPayload) error {
	return s.withLock(func() error {
		return writeJSON(s.payloadPath(payload.Kind), payload)
	})
}

func (s *FileStore) LoadPayload(ctx context.Context, kind models.Kind) (*models.AlertPayload, error) {
	var payload models.AlertPayload
	var found bool
	err := s.withLock(func() error {
		var err error
		found, err = readJSON(s.payloadPath(kind), &payload)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &payload, nil
}

func (s *FileStore) ClearPayload(ctx context.Context, kind models.Kind, payloadID string) error {
	return s.withLock(func() error {
		return s.clearPayloadLocked(kind, payloadID)
	})
}

func (s *FileStore) clearPayloadLocked(kind models.Kind, payloadID string) error {
	path := s.payloadPath(kind)
	if payloadID != "" {
		var current models.AlertPayload
		found, err := readJSON(path, &current)
		if err != nil {
			return err
		}
		if !found || current.ID != payloadID {
			return nil
		}
	}
	return removeFile(path)
}

func (s *FileStore) Resolve(ctx context.Context, handoff models.PendingHandoff) error {
	return s.withLock(func() error {
		// Handoff first: a crash in between leaves a payload that recovery
		// recognises as already resolved.
		if err := writeJSON(s.handoffPath(handoff.Kind), handoff); err != nil {
			return err
		}
		return s.clearPayloadLocked(handoff.Kind, handoff.PayloadID)
	})
}

func (s *FileStore) TakeHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	var handoff models.PendingHandoff
	var found bool
	err := s.withLock(func() error {
		var err error
		found, err = readJSON(s.handoffPath(kind), &handoff)
		if err != nil || !found {
			return err
		}
		return removeFile(s.handoffPath(kind))
	})
	if err != nil || !found {
		return nil, err
	}
	return &handoff, nil
}

func (s *FileStore) PeekHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	var handoff models.PendingHandoff
	var found bool
	err := s.withLock(func() error {
		var err error
		found, err = readJSON(s.handoffPath(kind), &handoff)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &handoff, nil
}

func (s *FileStore) RestoreHandoff(ctx context.Context, handoff models.PendingHandoff) (bool, error) {
	restored := false
	err := s.withLock(func() error {
		var existing models.PendingHandoff
		found, err := readJSON(s.handoffPath(handoff.Kind), &existing)
		if err != nil || found {
			return err
		}
		restored = true
		return writeJSON(s.handoffPath(handoff.Kind), handoff)
	})
	return restored && err == nil, err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Unlock()
}

func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
