package store

import (
	"context"
	"sync"

	"urgent-alert-relay/pkg/models"
)

// MemoryStore implements Store using maps (thread-safe).
type MemoryStore struct {
	mu       sync.Mutex
	payloads map[models.Kind]models.AlertPayload
	handoffs map[models.Kind]models.PendingHandoff
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payloads: make(map[models.Kind]models.AlertPayload),
		handoffs: make(map[models.Kind]models.PendingHandoff),
	}
}

func (s *MemoryStore) SavePayload(ctx context.Context, payload models.AlertPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[payload.Kind] = payload.Clone()
	return nil
}

func (s *MemoryStore) LoadPayload(ctx context.Context, kind models.Kind) (*models.AlertPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payloads[kind]
	if !ok {
		return nil, nil
	}
	clone := p.Clone()
	return &clone, nil
}

func (s *MemoryStore) ClearPayload(ctx context.Context, kind models.Kind, payloadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearPayloadLocked(kind, payloadID)
	return nil
}

func (s *MemoryStore) clearPayloadLocked(kind models.Kind, payloadID string) {
	p, ok := s.payloads[kind]
	if !ok {
		return
	}
	if payloadID == "" || p.ID == payloadID {
		delete(s.payloads, kind)
	}
}

func (s *MemoryStore) Resolve(ctx context.Context, handoff models.PendingHandoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearPayloadLocked(handoff.Kind, handoff.PayloadID)
	s.handoffs[handoff.Kind] = cloneHandoff(handoff)
	return nil
}

func (s *MemoryStore) TakeHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handoffs[kind]
	if !ok {
		return nil, nil
	}
	delete(s.handoffs, kind)
	return &h, nil
}

// DropHandoff discards the handoff for kind, if any.
func (s *MemoryStore) DropHandoff(kind models.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handoffs, kind)
}

func (s *MemoryStore) PeekHandoff(ctx context.Context, kind models.Kind) (*models.PendingHandoff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handoffs[kind]
	if !ok {
		return nil, nil
	}
	clone := cloneHandoff(h)
	return &clone, nil
}

func (s *MemoryStore) RestoreHandoff(ctx context.Context, handoff models.PendingHandoff) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handoffs[handoff.Kind]; ok {
		return false, nil
	}
	s.handoffs[handoff.Kind] = cloneHandoff(handoff)
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
