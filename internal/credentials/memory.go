package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/pushgate/internal/common"
)

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	rec = rec.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Username]; exists {
		return common.ErrDuplicateUsername
	}
	s.records[rec.Username] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, username string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.records[username]
	s.mu.RUnlock()

	if !ok {
		return Record{}, common.ErrNotFound
	}
	return rec.Clone(), nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
