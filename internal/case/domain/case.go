package domain

import (
	"strings"
	"time"

	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Status defines the status of a consultation case
type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusAnswered    Status = "answered"
	StatusFollowUp    Status = "follow_up"
	StatusCompleted   Status = "completed"
)

// Case is the aggregate root for consultation cases
type Case struct {
	ID             types.ID  `json:"id"`
	ReporterID     types.ID  `json:"reporter_id,omitempty"`
	OrganizationID *types.ID `json:"organization_id,omitempty"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	IncidentDate   time.Time `json:"incident_date"`
	Description    string    `json:"description"`

	// Assignment
	LawyerID  *types.ID  `json:"lawyer_id,omitempty"`
	Status    Status     `json:"status"`
	Response  *string    `json:"response,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Timestamps
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Not persisted with the row; drained by the repository and the engine.
	pendingReplies []Reply
	domainEvents   []Event
}

// NewCase creates a pending case with validation
func NewCase(reporterID types.ID, orgID *types.ID, title, category, description string, incidentDate, now time.Time) (*Case, error) {
	title = strings.TrimSpace(title)
	category = strings.TrimSpace(category)
	description = strings.TrimSpace(description)

	details := map[string]string{}
	if reporterID.IsZero() {
		details["reporter_id"] = "is required"
	}
	if title == "" {
		details["title"] = "is required"
	}
	if category == "" {
		details["category"] = "is required"
	}
	if description == "" {
		details["description"] = "is required"
	}
	if incidentDate.IsZero() {
		details["incident_date"] = "is required"
	} else if dateOnly(incidentDate).After(dateOnly(now)) {
		details["incident_date"] = "must not be in the future"
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid case", details)
	}

	return &Case{
		ID:             types.NewID(),
		ReporterID:     reporterID,
		OrganizationID: orgID,
		Title:          title,
		Category:       category,
		IncidentDate:   dateOnly(incidentDate),
		Description:    description,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsAvailable reports whether lawyers may still claim the case.
func (c *Case) IsAvailable() bool {
	return c.Status == StatusPending && c.LawyerID == nil
}

// IsAssignedTo reports whether lawyerID is the case's lawyer.
func (c *Case) IsAssignedTo(lawyerID types.ID) bool {
	return lawyerID.Matches(c.LawyerID)
}

// Claim records a lawyer's self-claim. Storage backends that cannot run the
// conditional update natively apply it under their own lock.
func (c *Case) Claim(lawyerID types.ID, now time.Time) error {
	if !c.IsAvailable() {
		return errors.AlreadyClaimed(c.ID.String())
	}
	c.setLawyer(lawyerID, now)
	c.addEvent(EventAssigned, lawyerID, "A lawyer is reviewing your case", c.ReporterID)
	return nil
}

// Assign sets the lawyer on behalf of an administrator.
func (c *Case) Assign(lawyerID, assignedBy types.ID, now time.Time) error {
	if c.LawyerID != nil {
		return errors.AlreadyAssigned(c.ID.String())
	}
	if c.Status != StatusPending {
		return errors.InvalidTransition(string(c.Status), string(StatusUnderReview))
	}
	c.setLawyer(lawyerID, now)
	c.addEvent(EventAssigned, assignedBy, "A lawyer was assigned to the case", c.ReporterID, lawyerID)
	return nil
}

func (c *Case) setLawyer(lawyerID types.ID, now time.Time) {
	c.LawyerID = lawyerID.Ptr()
	c.Status = StatusUnderReview
	c.ClaimedAt = &now
	c.UpdatedAt = now
}

// Respond records a lawyer response. The first one becomes the primary
// response; later ones are threaded as lawyer replies.
func (c *Case) Respond(lawyerID types.ID, content string, now time.Time) error {
	if !c.IsAssignedTo(lawyerID) {
		return errors.Forbidden("only the assigned lawyer may respond")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.Validation("invalid response", map[string]string{"content": "is required"})
	}

	switch c.Status {
	case StatusUnderReview:
		c.Response = &content
		c.AnsweredAt = &now
		c.Status = StatusAnswered
	case StatusAnswered:
		c.appendReply(lawyerID, true, content, now)
		c.Status = StatusFollowUp
	case StatusFollowUp:
		c.appendReply(lawyerID, true, content, now)
		c.Status = StatusAnswered
	default:
		return errors.InvalidTransition(string(c.Status), string(StatusAnswered))
	}

	c.UpdatedAt = now
	c.addEvent(EventAnswered, lawyerID, "Your case has a new response", c.ReporterID)
	return nil
}

// AddReply appends a reply from the reporter or the assigned lawyer.
func (c *Case) AddReply(authorID types.ID, isLawyerReply bool, content string, now time.Time) (*Reply, error) {
	if c.Status == StatusCompleted {
		return nil, errors.InvalidTransition(string(c.Status), "reply")
	}
	if authorID != c.ReporterID && !c.IsAssignedTo(authorID) {
		return nil, errors.Forbidden("only the reporter or the assigned lawyer may reply")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.Validation("invalid reply", map[string]string{"content": "is required"})
	}

	reply := c.appendReply(authorID, isLawyerReply, content, now)
	if c.Status == StatusAnswered {
		c.Status = StatusFollowUp
	}
	c.UpdatedAt = now

	recipient := c.ReporterID
	if authorID == c.ReporterID {
		recipient = types.Deref(c.LawyerID)
	}
	c.addEvent(EventReplied, authorID, "New reply on the case", recipient)
	return &reply, nil
}

// Complete marks an answered case as resolved.
func (c *Case) Complete(actorID types.ID, now time.Time) error {
	if c.Status != StatusAnswered && c.Status != StatusFollowUp {
		return errors.InvalidTransition(string(c.Status), string(StatusCompleted))
	}
	c.Status = StatusCompleted
	c.CompletedAt = &now
	c.UpdatedAt = now
	c.addEvent(EventCompleted, actorID, "The case was completed", c.ReporterID, types.Deref(c.LawyerID))
	return nil
}

func (c *Case) appendReply(authorID types.ID, isLawyerReply bool, content string, now time.Time) Reply {
	reply := Reply{
		ID:            types.NewID(),
		CaseID:        c.ID,
		AuthorID:      authorID,
		IsLawyerReply: isLawyerReply,
		Content:       content,
		CreatedAt:     now,
	}
	c.pendingReplies = append(c.pendingReplies, reply)
	return reply
}

// TakeReplies returns and clears replies not yet persisted
func (c *Case) TakeReplies() []Reply {
	replies := c.pendingReplies
	c.pendingReplies = nil
	return replies
}

// GetDomainEvents returns and clears domain events
func (c *Case) GetDomainEvents() []Event {
	events := c.domainEvents
	c.domainEvents = nil
	return events
}

// Clone returns a copy without pending replies or events.
func (c *Case) Clone() *Case {
	out := *c
	out.pendingReplies = nil
	out.domainEvents = nil
	return &out
}

// Listing returns the redacted view shown to lawyers before assignment.
func (c *Case) Listing(now time.Time) AvailableCase {
	return AvailableCase{
		ID:               c.ID,
		Title:            c.Title,
		Category:         c.Category,
		IncidentDate:     c.IncidentDate,
		Description:      c.Description,
		CreatedAt:        c.CreatedAt,
		DaysSinceCreated: DaysBetween(c.CreatedAt, now),
	}
}

func (c *Case) addEvent(eventType EventType, actorID types.ID, summary string, recipients ...types.ID) {
	c.domainEvents = append(c.domainEvents, Event{
		Type:       eventType,
		CaseID:     c.ID,
		ActorID:    actorID,
		Recipients: recipients,
		Summary:    summary,
		Timestamp:  c.UpdatedAt,
	})
}

// DaysBetween counts whole days from since to now, never negative.
func DaysBetween(since, now time.Time) int {
	if now.Before(since) {
		return 0
	}
	return int(now.Sub(since).Hours() / 24)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
