package authorization

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/metrics"
	"github.com/unionlegal/platform/internal/shared/types"
)

// ActorResolver looks up actors by id.
type ActorResolver interface {
	FindActor(ctx context.Context, id types.ID) (auth.Actor, error)
}

// Healer creates missing authorization records lazily.
type Healer struct {
	store  Store
	actors ActorResolver
	table  auth.Table
	log    *zap.Logger
}

// NewHealer creates a healer granting from table.
func NewHealer(store Store, actors ActorResolver, table auth.Table, log *zap.Logger) *Healer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Healer{store: store, actors: actors, table: table.Clone(), log: log}
}

// EnsureAuthorizationRecord returns the actor's record, creating it from the
// role's default grants when absent. An existing record is returned as is.
// When orgID is nil the actor's primary organization is recorded.
func (h *Healer) EnsureAuthorizationRecord(ctx context.Context, actorID types.ID, orgID *types.ID) (*Record, error) {
	existing, err := h.store.FindByActor(ctx, actorID)
	if err == nil {
		metrics.RecordHeal("existing")
		return existing, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		metrics.RecordHeal("error")
		return nil, err
	}

	actor, err := h.actors.FindActor(ctx, actorID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			metrics.RecordHeal("error")
		}
		return nil, err
	}
	if !actor.Role.IsPrivileged() {
		return nil, errors.BadRequest("only administrators carry authorization records")
	}

	if orgID == nil {
		orgID = actor.OrganizationID
	}
	candidate := &Record{
		ID:             types.NewID(),
		ActorID:        actor.ID,
		OrganizationID: orgID,
		PermissionSet:  h.table.PermissionSet(actor.Role),
		CreatedAt:      time.Now().UTC(),
	}

	created, err := h.store.InsertIfAbsent(ctx, candidate)
	if err != nil {
		metrics.RecordHeal("error")
		return nil, err
	}

	if created {
		metrics.RecordHeal("created")
		h.log.Info("authorization record created",
			zap.String("actor_id", actor.ID.String()),
			zap.String("role", string(actor.Role)),
			zap.Int("grants", len(candidate.PermissionSet)),
		)
	} else {
		metrics.RecordHeal("existing")
	}

	return h.store.FindByActor(ctx, actorID)
}

// OnAuthenticated heals the record of a privileged actor that just signed
// in. Failures are logged; the request carries on.
func (h *Healer) OnAuthenticated(ctx context.Context, actor auth.Actor) {
	if !actor.Role.IsPrivileged() {
		return
	}
	if _, err := h.EnsureAuthorizationRecord(ctx, actor.ID, actor.OrganizationID); err != nil {
		h.log.Warn("failed to heal authorization record",
			zap.String("actor_id", actor.ID.String()),
			zap.Error(err),
		)
	}
}
