package membership

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/notification"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/events"
	"github.com/unionlegal/platform/internal/shared/metrics"
	"github.com/unionlegal/platform/internal/shared/types"
)

const eventSource = "membership"

// Organizations is the slice of the directory the state machine needs.
type Organizations interface {
	OrganizationExists(ctx context.Context, orgID types.ID) error
	AdminsOf(ctx context.Context, orgID types.ID) ([]types.ID, error)
}

// Invalidator drops cached memberships for an actor.
type Invalidator interface {
	Invalidate(ctx context.Context, actorID types.ID) error
}

// Service runs membership applications and decisions.
type Service struct {
	repo          Repository
	organizations Organizations
	evaluator     *auth.Evaluator
	dispatcher    notification.Dispatcher
	cache         Invalidator
	log           *zap.Logger
	now           func() time.Time
}

// NewService creates a membership service
func NewService(repo Repository, organizations Organizations, evaluator *auth.Evaluator, dispatcher notification.Dispatcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		organizations: organizations,
		evaluator:     evaluator,
		dispatcher:    dispatcher,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithCache sets the cache invalidated after each decision.
func (s *Service) WithCache(cache Invalidator) *Service {
	s.cache = cache
	return s
}

// Apply records an application to join orgID. Repeated applications return
// the existing membership id whatever its status.
func (s *Service) Apply(ctx context.Context, subject auth.Subject, orgID types.ID) (types.ID, error) {
	actorID := subject.Actor.ID
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceMembership, auth.ActionCreate, auth.OwnedBy(actorID)); err != nil {
		return "", err
	}
	if err := s.organizations.OrganizationExists(ctx, orgID); err != nil {
		return "", err
	}

	m, created, err := s.repo.Apply(ctx, actorID, orgID)
	if err != nil {
		return "", err
	}
	if !created {
		return m.ID, nil
	}

	metrics.RecordMembershipTransition(string(StatusPending))
	s.log.Info("membership applied",
		zap.String("membership_id", m.ID.String()),
		zap.String("actor_id", actorID.String()),
		zap.String("organization_id", orgID.String()),
	)

	admins, err := s.organizations.AdminsOf(ctx, orgID)
	if err != nil {
		s.log.Warn("failed to resolve organization admins", zap.String("organization_id", orgID.String()), zap.Error(err))
		return m.ID, nil
	}
	recipients := make([]types.ID, 0, len(admins))
	for _, id := range admins {
		if id != actorID {
			recipients = append(recipients, id)
		}
	}
	s.emit(ctx, events.NewEvent(events.TypeMembershipApplied, eventSource, m.ID, "New membership application").
		WithActor(actorID).
		To(recipients...).
		With("organization_id", orgID.String()))

	return m.ID, nil
}

// Approve approves a pending membership.
func (s *Service) Approve(ctx context.Context, subject auth.Subject, id types.ID) (*Membership, error) {
	return s.decide(ctx, subject, id, func(m *Membership) error {
		return m.Approve(subject.Actor.ID, s.now())
	})
}

// Reject rejects a pending membership with an optional reason.
func (s *Service) Reject(ctx context.Context, subject auth.Subject, id types.ID, reason string) (*Membership, error) {
	return s.decide(ctx, subject, id, func(m *Membership) error {
		return m.Reject(subject.Actor.ID, reason, s.now())
	})
}

func (s *Service) decide(ctx context.Context, subject auth.Subject, id types.ID, transition func(m *Membership) error) (*Membership, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceMembership, auth.ActionUpdate, auth.InOrganization(&current.OrganizationID)); err != nil {
		return nil, err
	}

	m, err := s.repo.Decide(ctx, id, transition)
	if err != nil {
		return nil, err
	}

	metrics.RecordMembershipTransition(string(m.Status))
	s.log.Info("membership decided",
		zap.String("membership_id", m.ID.String()),
		zap.String("status", string(m.Status)),
		zap.String("decided_by", subject.Actor.ID.String()),
	)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, m.ActorID); err != nil {
			s.log.Warn("failed to invalidate membership cache", zap.String("actor_id", m.ActorID.String()), zap.Error(err))
		}
	}

	eventType, summary := events.TypeMembershipApproved, "Your membership was approved"
	if m.Status == StatusRejected {
		eventType, summary = events.TypeMembershipRejected, "Your membership was rejected"
	}
	event := events.NewEvent(eventType, eventSource, m.ID, summary).
		WithActor(subject.Actor.ID).
		To(m.ActorID).
		With("organization_id", m.OrganizationID.String())
	if m.RejectionReason != nil {
		event = event.With("reason", *m.RejectionReason)
	}
	s.emit(ctx, event)

	return m, nil
}

// Get returns a membership visible to the subject.
func (s *Service) Get(ctx context.Context, subject auth.Subject, id types.ID) (*Membership, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rc := auth.ResourceContext{OwnerID: m.ActorID.Ptr(), OrganizationID: &m.OrganizationID}
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceMembership, auth.ActionRead, rc); err != nil {
		return nil, err
	}
	return m, nil
}

// ListForActor lists an actor's own memberships.
func (s *Service) ListForActor(ctx context.Context, subject auth.Subject, actorID types.ID) ([]Membership, error) {
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceMembership, auth.ActionRead, auth.OwnedBy(actorID)); err != nil {
		return nil, err
	}
	return s.repo.ListForActor(ctx, actorID)
}

// ListForOrganization lists an organization's memberships for its admins.
func (s *Service) ListForOrganization(ctx context.Context, subject auth.Subject, orgID types.ID, status *Status) ([]Membership, error) {
	if err := sharedauth.Check(s.evaluator, subject, auth.ResourceMembership, auth.ActionRead, auth.InOrganization(&orgID)); err != nil {
		return nil, err
	}
	if status != nil && *status != StatusPending && *status != StatusApproved && *status != StatusRejected {
		return nil, errors.BadRequest("unknown membership status")
	}
	return s.repo.ListForOrganization(ctx, orgID, status)
}

// MembershipsOf returns the evaluator's view of an actor's memberships.
func (s *Service) MembershipsOf(ctx context.Context, actorID types.ID) ([]auth.Membership, error) {
	ms, err := s.repo.ListForActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := make([]auth.Membership, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Snapshot())
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.log.Warn("failed to dispatch event",
			zap.String("event_type", event.Type),
			zap.String("subject_id", event.SubjectID.String()),
			zap.Error(err),
		)
	}
}
