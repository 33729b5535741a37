package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/unionlegal/platform/internal/shared/types"
)

// Event types emitted by the consultation core.
const (
	TypeMembershipApplied  = "membership.applied"
	TypeMembershipApproved = "membership.approved"
	TypeMembershipRejected = "membership.rejected"
	TypeCaseAssigned       = "case.assigned"
	TypeCaseAnswered       = "case.answered"
)

// Event represents a domain event
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// ActorID is whoever caused the event.
	ActorID types.ID `json:"actor_id,omitempty"`

	// SubjectID is the case or membership the event is about.
	SubjectID  types.ID   `json:"subject_id"`
	Recipients []types.ID `json:"recipients"`
	Summary    string     `json:"summary"`

	Data map[string]string `json:"data,omitempty"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, subjectID types.ID, summary string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		SubjectID: subjectID,
		Summary:   summary,
	}
}

// WithActor sets the actor that caused the event
func (e Event) WithActor(actorID types.ID) Event {
	e.ActorID = actorID
	return e
}

// To adds recipients, skipping zero IDs and duplicates.
func (e Event) To(recipients ...types.ID) Event {
	seen := make(map[types.ID]bool, len(e.Recipients))
	out := append([]types.ID(nil), e.Recipients...)
	for _, r := range out {
		seen[r] = true
	}
	for _, r := range recipients {
		if r.IsZero() || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	e.Recipients = out
	return e
}

// With attaches a data field to the event
func (e Event) With(key, value string) Event {
	data := make(map[string]string, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// WithCorrelation sets the correlation ID for request tracing
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}
