package authorization

import (
	"context"
	"sync"

	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[types.ID]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[types.ID]Record)}
}

func (s *MemoryStore) FindByActor(ctx context.Context, actorID types.ID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[actorID]
	if !ok {
		return nil, errors.NotFound("authorization record", actorID.String())
	}
	r.PermissionSet = append([]string(nil), r.PermissionSet...)
	return &r, nil
}

func (s *MemoryStore) InsertIfAbsent(ctx context.Context, r *Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ActorID]; ok {
		return false, nil
	}
	stored := *r
	stored.PermissionSet = append([]string(nil), r.PermissionSet...)
	s.records[r.ActorID] = stored
	return true, nil
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
