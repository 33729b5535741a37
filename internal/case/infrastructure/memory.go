package infrastructure

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unionlegal/platform/internal/case/domain"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

// MemoryRepository implements domain.Repository in process. A single mutex
// stands in for the row locks and conditional updates of the database.
type MemoryRepository struct {
	mu      sync.Mutex
	cases   map[types.ID]*domain.Case
	replies map[types.ID][]domain.Reply
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		cases:   make(map[types.ID]*domain.Case),
		replies: make(map[types.ID][]domain.Reply),
	}
}

func (r *MemoryRepository) Save(ctx context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cases[c.ID]; ok {
		return errors.Conflict("case already exists")
	}
	r.cases[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id.String())
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) Claim(ctx context.Context, id, lawyerID types.ID, at time.Time) (*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id.String())
	}
	working := stored.Clone()
	if err := working.Claim(lawyerID, at); err != nil {
		return nil, err
	}
	r.cases[id] = working.Clone()
	return working.Clone(), nil
}

func (r *MemoryRepository) Mutate(ctx context.Context, id types.ID, fn func(c *domain.Case) error) (*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id.String())
	}

	working := stored.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	r.replies[id] = append(r.replies[id], working.TakeReplies()...)
	r.cases[id] = working.Clone()
	return working, nil
}

func (r *MemoryRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	filter.Normalize()

	r.mu.Lock()
	var matched []domain.Case
	for _, c := range r.cases {
		if matches(c, filter) {
			matched = append(matched, *c.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if filter.OrderDesc {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func matches(c *domain.Case, f domain.ListFilter) bool {
	if f.ReporterID != nil && c.ReporterID != *f.ReporterID {
		return false
	}
	if f.LawyerID != nil && !f.LawyerID.Matches(c.LawyerID) {
		return false
	}
	if len(f.OrganizationIDs) > 0 {
		found := false
		for _, org := range f.OrganizationIDs {
			if org.Matches(c.OrganizationID) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.Unassigned && c.LawyerID != nil {
		return false
	}
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(c.Title), q) && !strings.Contains(strings.ToLower(c.Description), q) {
			return false
		}
	}
	return true
}

func (r *MemoryRepository) Replies(ctx context.Context, caseID types.ID) ([]domain.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cases[caseID]; !ok {
		return nil, errors.NotFound("case", caseID.String())
	}
	return append([]domain.Reply(nil), r.replies[caseID]...), nil
}

var _ domain.Repository = (*MemoryRepository)(nil)
