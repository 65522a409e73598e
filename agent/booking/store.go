package booking

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store persists booking records across process restarts so a failed or
// interrupted session can be resumed.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps records in process. Records are copied on the way in
// and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrInvalidSession
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return ErrNilRecord
	}
	rec.touch(time.Now())
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SessionID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
