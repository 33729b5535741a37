// Package service implements the consultation case engine: creation, lawyer
// assignment and claims, responses and reply threads.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/case/domain"
	"github.com/unionlegal/platform/internal/notification"
	"github.com/unionlegal/platform/internal/privacy"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/events"
	"github.com/unionlegal/platform/internal/shared/metrics"
	"github.com/unionlegal/platform/internal/shared/types"
)

const eventSource = "case"

// ActorResolver looks up actors by id.
type ActorResolver interface {
	FindActor(ctx context.Context, id types.ID) (auth.Actor, error)
}

// NewCaseInput holds the reporter-supplied fields of a new case
type NewCaseInput struct {
	Title        string    `json:"title" validate:"required,max=255"`
	Category     string    `json:"category" validate:"required,max=64"`
	IncidentDate time.Time `json:"incident_date" validate:"required"`
	Description  string    `json:"description" validate:"required,max=20000"`
}

// CaseView is what a caller is allowed to see of a case. Exactly one of
// Case and Listing is set.
type CaseView struct {
	Case     *domain.Case          `json:"case,omitempty"`
	Reporter string                `json:"reporter,omitempty"`
	Listing  *domain.AvailableCase `json:"listing,omitempty"`
}

// ReplyView is a thread entry as shown to the caller. For lawyers the
// reporter's replies carry the pseudonym in Author and no author id.
type ReplyView struct {
	domain.Reply
	Author string `json:"author,omitempty"`
}

// Engine runs the case workflow.
type Engine struct {
	repo       domain.Repository
	actors     ActorResolver
	evaluator  *auth.Evaluator
	dispatcher notification.Dispatcher
	pseudonyms *privacy.Pseudonymizer
	log        *zap.Logger
	now        func() time.Time
}

// NewEngine creates a case engine
func NewEngine(
	repo domain.Repository,
	actors ActorResolver,
	evaluator *auth.Evaluator,
	dispatcher notification.Dispatcher,
	pseudonyms *privacy.Pseudonymizer,
	log *zap.Logger,
) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		repo:       repo,
		actors:     actors,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		pseudonyms: pseudonyms,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create files a new pending case for the calling member.
func (e *Engine) Create(ctx context.Context, subject auth.Subject, in NewCaseInput) (*domain.Case, error) {
	actor := subject.Actor
	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCase, auth.ActionCreate, auth.OwnedBy(actor.ID)); err != nil {
		return nil, err
	}

	c, err := domain.NewCase(actor.ID, actor.OrganizationID, in.Title, in.Category, in.Description, in.IncidentDate, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.repo.Save(ctx, c); err != nil {
		return nil, err
	}

	metrics.RecordCaseCreated(c.Category)
	e.log.Info("case created",
		zap.String("case_id", c.ID.String()),
		zap.String("category", c.Category),
	)
	return c, nil
}

// Get returns the caller's view of a case. Lawyers other than the assigned
// one only see the redacted listing, and only while the case is claimable.
func (e *Engine) Get(ctx context.Context, subject auth.Subject, id types.ID) (*CaseView, error) {
	c, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.view(subject, c)
}

func (e *Engine) view(subject auth.Subject, c *domain.Case) (*CaseView, error) {
	actor := subject.Actor
	if actor.IsLawyer() {
		switch {
		case c.IsAssignedTo(actor.ID):
			return &CaseView{Case: e.forLawyer(c), Reporter: e.pseudonyms.Label(c.ReporterID)}, nil
		case c.IsAvailable():
			listing := c.Listing(e.now())
			return &CaseView{Listing: &listing}, nil
		default:
			return nil, errors.Forbidden("case is assigned to another lawyer")
		}
	}

	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCase, auth.ActionRead, caseContext(c)); err != nil {
		return nil, err
	}
	return &CaseView{Case: c, Reporter: e.pseudonyms.Label(c.ReporterID)}, nil
}

// forLawyer hides the reporter id behind the pseudonym label.
func (e *Engine) forLawyer(c *domain.Case) *domain.Case {
	out := c.Clone()
	out.ReporterID = ""
	return out
}

// ListAvailable lists pending unassigned cases for lawyers to claim.
func (e *Engine) ListAvailable(ctx context.Context, subject auth.Subject, filter domain.ListFilter) ([]domain.AvailableCase, int, error) {
	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCaseClaim, auth.ActionCreate, auth.ResourceContext{}); err != nil {
		return nil, 0, err
	}

	pending := domain.StatusPending
	query := domain.ListFilter{
		Status:     &pending,
		Unassigned: true,
		Category:   filter.Category,
		Search:     filter.Search,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	cases, total, err := e.repo.List(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	now := e.now()
	out := make([]domain.AvailableCase, 0, len(cases))
	for i := range cases {
		out = append(out, cases[i].Listing(now))
	}
	return out, total, nil
}

// ListMine lists the cases the caller works with: reported cases for members,
// assigned cases for lawyers, organization cases for admins.
func (e *Engine) ListMine(ctx context.Context, subject auth.Subject, filter domain.ListFilter) ([]CaseView, int, error) {
	actor := subject.Actor
	query := domain.ListFilter{
		Status:    filter.Status,
		Category:  filter.Category,
		Search:    filter.Search,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
		OrderDesc: true,
	}

	switch actor.Role {
	case auth.RoleMember:
		query.ReporterID = actor.ID.Ptr()
	case auth.RoleLawyer:
		query.LawyerID = actor.ID.Ptr()
	case auth.RoleAdmin:
		for _, m := range subject.Memberships {
			if m.Status == auth.MembershipApproved {
				query.OrganizationIDs = append(query.OrganizationIDs, m.OrganizationID)
			}
		}
		if len(query.OrganizationIDs) == 0 {
			return []CaseView{}, 0, nil
		}
	case auth.RoleSuperAdmin:
	default:
		return nil, 0, errors.Forbidden("unknown role")
	}

	cases, total, err := e.repo.List(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	out := make([]CaseView, 0, len(cases))
	for i := range cases {
		v, err := e.view(subject, &cases[i])
		if err != nil {
			continue
		}
		out = append(out, *v)
	}
	return out, total, nil
}

// Claim assigns the calling lawyer to a pending case. Concurrent claims for
// the same case produce exactly one winner; the rest get AlreadyClaimed.
func (e *Engine) Claim(ctx context.Context, subject auth.Subject, id types.ID) (*domain.Case, error) {
	actor := subject.Actor
	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCaseClaim, auth.ActionCreate, auth.ResourceContext{}); err != nil {
		metrics.RecordClaim("forbidden")
		return nil, err
	}
	if !actor.IsLawyer() {
		metrics.RecordClaim("forbidden")
		return nil, errors.Forbidden("only lawyers can claim cases")
	}

	c, err := e.repo.Claim(ctx, id, actor.ID, e.now())
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrAlreadyClaimed):
			metrics.RecordClaim("already_claimed")
		case errors.Is(err, errors.ErrNotFound):
			metrics.RecordClaim("not_found")
		default:
			metrics.RecordClaim("error")
		}
		return nil, err
	}

	metrics.RecordClaim("won")
	metrics.RecordCaseStatusChange(string(domain.StatusPending), string(c.Status))
	e.log.Info("case claimed",
		zap.String("case_id", c.ID.String()),
		zap.String("lawyer_id", actor.ID.String()),
	)

	e.emit(ctx, events.NewEvent(events.TypeCaseAssigned, eventSource, c.ID, "A lawyer is reviewing your case").
		WithActor(actor.ID).
		To(c.ReporterID))
	return e.forLawyer(c), nil
}

// Assign sets the case lawyer on behalf of an administrator, optionally with
// a first response. An already assigned case is never overwritten.
func (e *Engine) Assign(ctx context.Context, subject auth.Subject, id, lawyerID types.ID, firstResponse *string) (*domain.Case, error) {
	actor := subject.Actor
	if !auth.HasAnyRole(actor, auth.RoleAdmin, auth.RoleSuperAdmin) {
		return nil, errors.Forbidden("only administrators can assign lawyers")
	}

	current, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCase, auth.ActionUpdate, auth.InOrganization(current.OrganizationID)); err != nil {
		return nil, err
	}

	lawyer, err := e.actors.FindActor(ctx, lawyerID)
	if err != nil {
		return nil, err
	}
	if !lawyer.IsLawyer() {
		return nil, errors.BadRequest("assignee is not a lawyer")
	}

	return e.mutate(ctx, id, func(c *domain.Case) error {
		if err := c.Assign(lawyerID, actor.ID, e.now()); err != nil {
			return err
		}
		if firstResponse != nil && *firstResponse != "" {
			return c.Respond(lawyerID, *firstResponse, e.now())
		}
		return nil
	})
}

// Respond records a response from the assigned lawyer.
func (e *Engine) Respond(ctx context.Context, subject auth.Subject, id types.ID, content string) (*domain.Case, error) {
	actor := subject.Actor
	current, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rc := auth.ResourceContext{OwnerID: current.LawyerID}
	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCaseResponse, auth.ActionCreate, rc); err != nil {
		return nil, err
	}

	c, err := e.mutate(ctx, id, func(c *domain.Case) error {
		return c.Respond(actor.ID, content, e.now())
	})
	if err != nil {
		return nil, err
	}
	return e.forLawyer(c), nil
}

// Reply appends a reply from the reporter or the assigned lawyer.
func (e *Engine) Reply(ctx context.Context, subject auth.Subject, id types.ID, content string) (*domain.Reply, error) {
	actor := subject.Actor
	current, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCaseReply, auth.ActionCreate, replyContext(actor, current)); err != nil {
		return nil, err
	}

	var reply *domain.Reply
	_, err = e.mutate(ctx, id, func(c *domain.Case) error {
		r, err := c.AddReply(actor.ID, actor.IsLawyer(), content, e.now())
		reply = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Replies returns the reply thread of a case in creation order.
func (e *Engine) Replies(ctx context.Context, subject auth.Subject, id types.ID) ([]ReplyView, error) {
	c, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCaseReply, auth.ActionRead, replyContext(subject.Actor, c)); err != nil {
		return nil, err
	}

	replies, err := e.repo.Replies(ctx, id)
	if err != nil {
		return nil, err
	}

	views := make([]ReplyView, 0, len(replies))
	for _, r := range replies {
		view := ReplyView{Reply: r}
		if r.AuthorID == c.ReporterID {
			view.Author = e.pseudonyms.Label(c.ReporterID)
			if subject.Actor.IsLawyer() {
				view.AuthorID = ""
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// Complete marks an answered case as resolved.
func (e *Engine) Complete(ctx context.Context, subject auth.Subject, id types.ID) (*domain.Case, error) {
	current, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sharedauth.Check(e.evaluator, subject, auth.ResourceCase, auth.ActionUpdate, caseContext(current)); err != nil {
		return nil, err
	}

	return e.mutate(ctx, id, func(c *domain.Case) error {
		return c.Complete(subject.Actor.ID, e.now())
	})
}

// mutate runs a locked update, then records metrics and publishes the
// domain events the update produced.
func (e *Engine) mutate(ctx context.Context, id types.ID, fn func(c *domain.Case) error) (*domain.Case, error) {
	var from domain.Status
	c, err := e.repo.Mutate(ctx, id, func(c *domain.Case) error {
		from = c.Status
		return fn(c)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordCaseStatusChange(string(from), string(c.Status))
	if from != c.Status {
		e.log.Info("case status changed",
			zap.String("case_id", c.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(c.Status)),
		)
	}

	for _, de := range c.GetDomainEvents() {
		e.publish(ctx, de)
	}
	return c, nil
}

func (e *Engine) publish(ctx context.Context, de domain.Event) {
	var eventType string
	switch de.Type {
	case domain.EventAssigned:
		eventType = events.TypeCaseAssigned
	case domain.EventAnswered:
		eventType = events.TypeCaseAnswered
	default:
		e.log.Debug("case event not dispatched", zap.String("type", string(de.Type)), zap.String("case_id", de.CaseID.String()))
		return
	}

	e.emit(ctx, events.NewEvent(eventType, eventSource, de.CaseID, de.Summary).
		WithActor(de.ActorID).
		To(de.Recipients...))
}

func (e *Engine) emit(ctx context.Context, event events.Event) {
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Dispatch(ctx, event); err != nil {
		e.log.Warn("failed to dispatch event",
			zap.String("event_type", event.Type),
			zap.String("case_id", event.SubjectID.String()),
			zap.Error(err),
		)
	}
}

func caseContext(c *domain.Case) auth.ResourceContext {
	return auth.ResourceContext{OwnerID: c.ReporterID.Ptr(), OrganizationID: c.OrganizationID}
}

// replyContext picks the owner a reply check is made against: the lawyer for
// lawyers, the reporter for everyone else.
func replyContext(actor auth.Actor, c *domain.Case) auth.ResourceContext {
	rc := caseContext(c)
	if actor.IsLawyer() {
		rc.OwnerID = c.LawyerID
	}
	return rc
}
