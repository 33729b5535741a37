package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/shared/events"
)

// BusSink appends events to the durable event log.
type BusSink struct {
	bus events.EventBus
}

// NewBusSink creates a sink over an event bus
func NewBusSink(bus events.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Name() string { return "event_bus" }

// Deliver publishes the event once regardless of recipient count.
func (s *BusSink) Deliver(ctx context.Context, event events.Event, _ []*Notification) error {
	return s.bus.Publish(ctx, event)
}

// Enqueuer is the subset of *asynq.Client the queue sink needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink enqueues one delivery task per notification.
type QueueSink struct {
	client   Enqueuer
	maxRetry int
}

// NewQueueSink creates a sink over an asynq client
func NewQueueSink(client Enqueuer, maxRetry int) *QueueSink {
	return &QueueSink{client: client, maxRetry: maxRetry}
}

func (s *QueueSink) Name() string { return "task_queue" }

// Deliver enqueues every notification. A notification whose task already
// exists is not an error, so retries stay idempotent.
func (s *QueueSink) Deliver(ctx context.Context, _ events.Event, notifications []*Notification) error {
	var errs []error
	for _, n := range notifications {
		task, err := NewDeliverTask(n, s.maxRetry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := s.client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes notifications to the log. Used when no queue is configured.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a logging sink
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, event events.Event, notifications []*Notification) error {
	for _, n := range notifications {
		s.log.Info("notification",
			zap.String("id", n.ID),
			zap.String("type", n.EventType),
			zap.String("recipient_id", n.RecipientID.String()),
			zap.String("subject_id", n.SubjectID.String()),
			zap.String("title", n.Title),
		)
	}
	return nil
}

// MemorySink records deliveries in memory and can be told to fail.
type MemorySink struct {
	mu            sync.Mutex
	events        []events.Event
	notifications []*Notification
	failures      int
}

// NewMemorySink creates a recording sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

// FailNext makes the next n deliveries fail.
func (s *MemorySink) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *MemorySink) Deliver(ctx context.Context, event events.Event, notifications []*Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("memory sink: simulated failure")
	}
	s.events = append(s.events, event)
	s.notifications = append(s.notifications, notifications...)
	return nil
}

// Events returns the delivered events
func (s *MemorySink) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

// Notifications returns the delivered notifications
func (s *MemorySink) Notifications() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification(nil), s.notifications...)
}

// Recorder is a synchronous Dispatcher that keeps every event it receives.
// Set Err to make Dispatch fail after recording.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	Err    error
}

// NewRecorder creates a recording dispatcher
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Dispatch(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

// Events returns the recorded events
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(eventType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ Sink       = (*BusSink)(nil)
	_ Sink       = (*QueueSink)(nil)
	_ Sink       = (*LogSink)(nil)
	_ Sink       = (*MemorySink)(nil)
	_ Dispatcher = (*Recorder)(nil)
)
