package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

// MemoryStore is an in-process Store used in limited mode and tests.
// AdminsOf only considers primary organizations for admins.
type MemoryStore struct {
	mu    sync.RWMutex
	orgs  map[types.ID]Organization
	users map[types.ID]User
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:  make(map[types.ID]Organization),
		users: make(map[types.ID]User),
	}
}

func (m *MemoryStore) CreateOrganization(ctx context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.orgs {
		if strings.EqualFold(existing.Name, org.Name) {
			return errors.Conflict("organization with this name already exists")
		}
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	m.orgs[org.ID] = *org
	return nil
}

func (m *MemoryStore) GetOrganization(ctx context.Context, id types.ID) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	org, ok := m.orgs[id]
	if !ok {
		return nil, errors.NotFound("organization", id.String())
	}
	return &org, nil
}

func (m *MemoryStore) ListOrganizations(ctx context.Context, filter ListOrganizationsFilter) ([]Organization, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Organization
	for _, org := range m.orgs {
		if filter.Search != "" && !strings.Contains(strings.ToLower(org.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	total := len(out)
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + limit
	if end > total {
		end = total
	}
	return out[filter.Offset:end], total, nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.ID]; exists {
		return errors.Conflict("user already exists")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id types.ID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	return &user, nil
}

func (m *MemoryStore) SetPrimaryOrganizationIfUnset(ctx context.Context, userID, orgID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return false, errors.NotFound("user", userID.String())
	}
	if user.OrganizationID != nil {
		return false, nil
	}
	user.OrganizationID = orgID.Ptr()
	m.users[userID] = user
	return true, nil
}

func (m *MemoryStore) AdminsOf(ctx context.Context, orgID types.ID) ([]types.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var admins []User
	for _, u := range m.users {
		if u.Role == auth.RoleSuperAdmin || (u.Role == auth.RoleAdmin && orgID.Matches(u.OrganizationID)) {
			admins = append(admins, u)
		}
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].CreatedAt.Before(admins[j].CreatedAt) })

	ids := make([]types.ID, len(admins))
	for i, u := range admins {
		ids[i] = u.ID
	}
	return ids, nil
}

var _ Store = (*MemoryStore)(nil)
