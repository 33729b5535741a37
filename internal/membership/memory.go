package membership

import (
	"context"
	"sort"
	"sync"

	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

// PrimaryOrganizationSetter sets a user's organization when it is unset.
type PrimaryOrganizationSetter interface {
	SetPrimaryOrganizationIfUnset(ctx context.Context, userID, orgID types.ID) (bool, error)
}

type pairKey struct {
	actor types.ID
	org   types.ID
}

// MemoryRepository is a mutex-guarded Repository for limited mode and tests.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[types.ID]*Membership
	byPair map[pairKey]types.ID
	users  PrimaryOrganizationSetter
}

// NewMemoryRepository creates an empty repository. users may be nil.
func NewMemoryRepository(users PrimaryOrganizationSetter) *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[types.ID]*Membership),
		byPair: make(map[pairKey]types.ID),
		users:  users,
	}
}

func (r *MemoryRepository) Apply(ctx context.Context, actorID, orgID types.ID) (*Membership, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{actor: actorID, org: orgID}
	if id, ok := r.byPair[key]; ok {
		m := *r.byID[id]
		return &m, false, nil
	}

	m := NewMembership(actorID, orgID)
	r.byID[m.ID] = m
	r.byPair[key] = m.ID
	out := *m
	return &out, true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (*Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFound("membership", id.String())
	}
	out := *m
	return &out, nil
}

func (r *MemoryRepository) ListForActor(ctx context.Context, actorID types.ID) ([]Membership, error) {
	return r.filter(func(m *Membership) bool { return m.ActorID == actorID }), nil
}

func (r *MemoryRepository) ListForOrganization(ctx context.Context, orgID types.ID, status *Status) ([]Membership, error) {
	return r.filter(func(m *Membership) bool {
		return m.OrganizationID == orgID && (status == nil || m.Status == *status)
	}), nil
}

func (r *MemoryRepository) filter(keep func(m *Membership) bool) []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Membership
	for _, m := range r.byID {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) Decide(ctx context.Context, id types.ID, fn func(m *Membership) error) (*Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFound("membership", id.String())
	}

	working := *stored
	if err := fn(&working); err != nil {
		return nil, err
	}

	if working.Status == StatusApproved && r.users != nil {
		if _, err := r.users.SetPrimaryOrganizationIfUnset(ctx, working.ActorID, working.OrganizationID); err != nil {
			return nil, err
		}
	}

	*stored = working
	out := working
	return &out, nil
}

var _ Repository = (*MemoryRepository)(nil)
