package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/shared/config"
)

const (
	// TaskTypeDeliver is the asynq task type for a single notification.
	TaskTypeDeliver = "notification:deliver"
	// QueueName is the asynq queue notifications are routed to.
	QueueName = "notifications"
)

// NewDeliverTask wraps a notification in an asynq task. The notification id
// doubles as the task id.
func NewDeliverTask(n *Notification, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	opts := []asynq.Option{asynq.Queue(QueueName), asynq.TaskID(n.ID)}
	if maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(maxRetry))
	}
	return asynq.NewTask(TaskTypeDeliver, payload, opts...), nil
}

// Deliverer hands a notification to an end-user channel.
type Deliverer interface {
	Deliver(ctx context.Context, n *Notification) error
}

// LogDeliverer logs notifications instead of sending them anywhere.
type LogDeliverer struct {
	log *zap.Logger
}

// NewLogDeliverer creates a logging deliverer
func NewLogDeliverer(log *zap.Logger) *LogDeliverer {
	return &LogDeliverer{log: log}
}

func (d *LogDeliverer) Deliver(ctx context.Context, n *Notification) error {
	d.log.Info("notification delivered",
		zap.String("id", n.ID),
		zap.String("type", n.EventType),
		zap.String("recipient_id", n.RecipientID.String()),
	)
	return nil
}

// TaskHandler processes notification tasks.
type TaskHandler struct {
	deliverer Deliverer
	log       *zap.Logger
}

// NewTaskHandler creates a task handler
func NewTaskHandler(deliverer Deliverer, log *zap.Logger) *TaskHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskHandler{deliverer: deliverer, log: log}
}

// HandleDeliver decodes a notification:deliver task and delivers it.
// Malformed payloads are not retried.
func (h *TaskHandler) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("invalid notification payload: %v: %w", err, asynq.SkipRetry)
	}
	if n.RecipientID.IsZero() {
		return fmt.Errorf("notification %s has no recipient: %w", n.ID, asynq.SkipRetry)
	}

	if err := h.deliverer.Deliver(ctx, &n); err != nil {
		h.log.Warn("notification delivery failed", zap.String("id", n.ID), zap.Error(err))
		return err
	}
	return nil
}

// RedisOpt builds the asynq connection options from the shared Redis config.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// TaskServer consumes the notification queue
type TaskServer struct {
	server  *asynq.Server
	handler *TaskHandler
	log     *zap.Logger
}

// NewTaskServer creates a new task processing server
func NewTaskServer(redisOpt asynq.RedisClientOpt, cfg config.QueueConfig, handler *TaskHandler, log *zap.Logger) *TaskServer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      log.Sugar(),
	})

	return &TaskServer{server: server, handler: handler, log: log}
}

// Mux returns the handler mux for the notification task types.
func (s *TaskServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeDeliver, s.handler.HandleDeliver)
	return mux
}

// Start starts the task processing server
func (s *TaskServer) Start() error {
	if err := s.server.Start(s.Mux()); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}
	s.log.Info("notification task server started", zap.String("queue", QueueName))
	return nil
}

// Shutdown gracefully shuts down the task processing server
func (s *TaskServer) Shutdown() {
	s.log.Info("shutting down notification task server")
	s.server.Shutdown()
}
