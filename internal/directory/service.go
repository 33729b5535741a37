package directory

import (
	"context"

	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/auth"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Service exposes the directory to the rest of the platform.
type Service struct {
	store     Store
	evaluator *auth.Evaluator
	log       *zap.Logger
}

// NewService creates a directory service
func NewService(store Store, evaluator *auth.Evaluator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, evaluator: evaluator, log: log}
}

// FindActor resolves an actor for authentication.
func (s *Service) FindActor(ctx context.Context, id types.ID) (auth.Actor, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return auth.Actor{}, err
	}
	return user.Actor(), nil
}

// AdminsOf lists the admins and super admins to notify about an organization.
func (s *Service) AdminsOf(ctx context.Context, orgID types.ID) ([]types.ID, error) {
	return s.store.AdminsOf(ctx, orgID)
}

// OrganizationExists reports whether orgID is known.
func (s *Service) OrganizationExists(ctx context.Context, orgID types.ID) error {
	_, err := s.store.GetOrganization(ctx, orgID)
	return err
}

// CreateOrganization creates an organization. Only super admins manage organizations.
func (s *Service) CreateOrganization(ctx context.Context, subject auth.Subject, req CreateOrganizationRequest) (*Organization, error) {
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceOrganization, auth.ActionCreate, auth.ResourceContext{}); err != nil {
		return nil, err
	}

	org := &Organization{ID: types.NewID(), Name: req.Name}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("organization_id", org.ID.String()),
		zap.String("created_by", subject.Actor.ID.String()),
	)
	return org, nil
}

// GetOrganization returns an organization the subject may read.
func (s *Service) GetOrganization(ctx context.Context, subject auth.Subject, id types.ID) (*Organization, error) {
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceOrganization, auth.ActionRead, auth.InOrganization(&id)); err != nil {
		return nil, err
	}
	return s.store.GetOrganization(ctx, id)
}

// ListOrganizations lists organizations. Members browse them to apply.
func (s *Service) ListOrganizations(ctx context.Context, subject auth.Subject, filter ListOrganizationsFilter) ([]Organization, int, error) {
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceOrganization, auth.ActionRead, auth.ResourceContext{}); err != nil {
		return nil, 0, err
	}
	return s.store.ListOrganizations(ctx, filter)
}

// RegisterUser adds an actor to the directory.
func (s *Service) RegisterUser(ctx context.Context, subject auth.Subject, req CreateUserRequest) (*User, error) {
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceUser, auth.ActionCreate, auth.ResourceContext{}); err != nil {
		return nil, err
	}
	if !req.Role.Valid() {
		return nil, errors.BadRequest("unknown role")
	}

	user := &User{ID: types.NewID(), Role: req.Role, DisplayName: req.DisplayName}
	if req.ID != nil && !req.ID.IsZero() {
		user.ID = *req.ID
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns a directory entry the subject may read.
func (s *Service) GetUser(ctx context.Context, subject auth.Subject, id types.ID) (*User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	rc := auth.ResourceContext{OwnerID: user.ID.Ptr(), OrganizationID: user.OrganizationID}
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceUser, auth.ActionRead, rc); err != nil {
		return nil, err
	}
	return user, nil
}
