package notification

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/unionlegal/platform/internal/shared/events"
	"github.com/unionlegal/platform/internal/shared/types"
)

// NotificationStatus represents notification delivery status
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)

// Notification is one rendered message for one recipient.
type Notification struct {
	ID          string             `json:"id"`
	EventID     string             `json:"event_id"`
	EventType   string             `json:"event_type"`
	RecipientID types.ID           `json:"recipient_id"`
	SubjectID   types.ID           `json:"subject_id"`
	Status      NotificationStatus `json:"status"`

	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`

	CorrelationID string    `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NotificationStats holds dispatcher counters
type NotificationStats struct {
	Dispatched int64            `json:"dispatched"`
	Delivered  int64            `json:"delivered"`
	Failed     int64            `json:"failed"`
	ByType     map[string]int64 `json:"by_type"`
}

var titles = map[string]string{
	events.TypeMembershipApplied:  "New membership application",
	events.TypeMembershipApproved: "Membership approved",
	events.TypeMembershipRejected: "Membership rejected",
	events.TypeCaseAssigned:       "Case assigned",
	events.TypeCaseAnswered:       "Your case has a new answer",
}

// Render produces one notification per recipient of event.
func Render(event events.Event) []*Notification {
	title, ok := titles[event.Type]
	if !ok {
		title = fmt.Sprintf("Update: %s", event.Type)
	}

	now := time.Now().UTC()
	out := make([]*Notification, 0, len(event.Recipients))
	for _, recipient := range event.Recipients {
		out = append(out, &Notification{
			ID:            newNotificationID(),
			EventID:       event.ID,
			EventType:     event.Type,
			RecipientID:   recipient,
			SubjectID:     event.SubjectID,
			Status:        StatusPending,
			Title:         title,
			Body:          event.Summary,
			Data:          event.Data,
			CorrelationID: event.CorrelationID,
			CreatedAt:     now,
		})
	}
	return out
}

// newNotificationID returns a time-sortable id.
func newNotificationID() string {
	return "ntf_" + ulid.Make().String()
}
