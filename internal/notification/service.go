package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/shared/config"
	"github.com/unionlegal/platform/internal/shared/events"
	"github.com/unionlegal/platform/internal/shared/metrics"
)

// ErrBufferFull is returned when the dispatch queue is saturated.
var ErrBufferFull = errors.New("notification buffer full")

// ErrStopped is returned by Dispatch once Stop has been called.
var ErrStopped = errors.New("notification service stopped")

// Dispatcher accepts domain events for best-effort delivery.
// Dispatch must not block on delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, event events.Event) error
}

// Sink receives an event together with its rendered notifications.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event events.Event, notifications []*Notification) error
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:       4,
		BufferSize:    1000,
		RetryAttempts: 3,
		RetryDelay:    2 * time.Second,
	}
}

// ConfigFrom maps application config onto the service config
func ConfigFrom(cfg config.NotificationConfig) ServiceConfig {
	sc := DefaultServiceConfig()
	if cfg.Workers > 0 {
		sc.Workers = cfg.Workers
	}
	if cfg.BufferSize > 0 {
		sc.BufferSize = cfg.BufferSize
	}
	if cfg.RetryAttempts > 0 {
		sc.RetryAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		sc.RetryDelay = cfg.RetryDelay
	}
	return sc
}

// Service is the asynchronous notification dispatcher: a fixed worker pool
// draining a buffered channel of events into the configured sinks.
type Service struct {
	sinks []Sink
	log   *zap.Logger

	mu    sync.Mutex
	stats NotificationStats

	eventCh chan events.Event

	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config ServiceConfig
}

// NewService creates a new notification service
func NewService(cfg ServiceConfig, log *zap.Logger, sinks ...Sink) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		sinks:   sinks,
		log:     log,
		stats:   NotificationStats{ByType: make(map[string]int64)},
		eventCh: make(chan events.Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		config:  cfg,
	}
}

// Start starts the notification workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.log.Info("notification dispatcher started",
		zap.Int("workers", s.config.Workers),
		zap.Int("buffer", s.config.BufferSize),
		zap.Int("sinks", len(s.sinks)),
	)
	return nil
}

// Stop stops the workers after they drain what is already queued.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("service not running")
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}

// Dispatch enqueues an event without waiting for delivery. An event accepted
// before Stop is always delivered by the drain.
func (s *Service) Dispatch(ctx context.Context, event events.Event) error {
	if event.CorrelationID == "" {
		if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
			event = event.WithCorrelation(reqID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	select {
	case s.eventCh <- event:
		return nil
	default:
		metrics.RecordNotification(event.Type, "dropped")
		return ErrBufferFull
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			s.drain(ctx)
			return
		case event := <-s.eventCh:
			s.process(ctx, event)
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case event := <-s.eventCh:
			s.process(ctx, event)
		default:
			return
		}
	}
}

// process renders an event and hands it to every sink, retrying each sink
// independently.
func (s *Service) process(ctx context.Context, event events.Event) {
	notifications := Render(event)
	if len(notifications) == 0 {
		s.log.Debug("event has no recipients", zap.String("type", event.Type), zap.String("event_id", event.ID))
		return
	}

	failed := false
	for _, sink := range s.sinks {
		if err := s.deliver(ctx, sink, event, notifications); err != nil {
			failed = true
			s.log.Warn("notification sink failed",
				zap.String("sink", sink.Name()),
				zap.String("type", event.Type),
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	}

	outcome := "delivered"
	if failed {
		outcome = "failed"
	}
	metrics.RecordNotification(event.Type, outcome)

	s.mu.Lock()
	s.stats.Dispatched++
	s.stats.ByType[event.Type]++
	if failed {
		s.stats.Failed++
	} else {
		s.stats.Delivered++
	}
	s.mu.Unlock()
}

func (s *Service) deliver(ctx context.Context, sink Sink, event events.Event, notifications []*Notification) error {
	var err error
	for attempt := 1; attempt <= s.config.RetryAttempts; attempt++ {
		if err = sink.Deliver(ctx, event, notifications); err == nil {
			return nil
		}
		if attempt == s.config.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.RetryDelay):
		}
	}
	return err
}

// GetStats returns notification statistics
func (s *Service) GetStats() NotificationStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[string]int64, len(s.stats.ByType))
	for k, v := range s.stats.ByType {
		byType[k] = v
	}
	stats := s.stats
	stats.ByType = byType
	return stats
}

var _ Dispatcher = (*Service)(nil)
