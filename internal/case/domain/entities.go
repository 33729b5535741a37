package domain

import (
	"time"

	"github.com/unionlegal/platform/internal/shared/types"
)

// Reply is an append-only message on a case thread
type Reply struct {
	ID            types.ID  `json:"id"`
	CaseID        types.ID  `json:"case_id"`
	AuthorID      types.ID  `json:"author_id"`
	IsLawyerReply bool      `json:"is_lawyer_reply"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// AvailableCase is the listing entry lawyers see for unassigned cases.
// It carries nothing that identifies the reporter.
type AvailableCase struct {
	ID               types.ID  `json:"id"`
	Title            string    `json:"title"`
	Category         string    `json:"category"`
	IncidentDate     time.Time `json:"incident_date"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"created_at"`
	DaysSinceCreated int       `json:"days_since_created"`
}

// EventType defines types of case events
type EventType string

const (
	EventAssigned  EventType = "assigned"
	EventAnswered  EventType = "answered"
	EventReplied   EventType = "replied"
	EventCompleted EventType = "completed"
)

// Event is a domain event for publishing
type Event struct {
	Type       EventType  `json:"type"`
	CaseID     types.ID   `json:"case_id"`
	ActorID    types.ID   `json:"actor_id"`
	Recipients []types.ID `json:"recipients"`
	Summary    string     `json:"summary"`
	Timestamp  time.Time  `json:"timestamp"`
}
