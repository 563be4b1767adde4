package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-lifecycle/internal/broker"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
)

const promoteBatch = 100

// EventConsumer is implemented by *broker.Consumer
type EventConsumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// OrderEventHandler reacts to order lifecycle events.
// Implemented by *service.NotificationService.
type OrderEventHandler interface {
	HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	HandleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// NotificationWorker consumes order events and turns them into jobs
type NotificationWorker struct {
	consumer     EventConsumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer EventConsumer, handler OrderEventHandler) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderCreated(handler.HandleOrderCreated)
	eventHandler.OnOrderCancelled(handler.HandleOrderCancelled)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.ComponentLogger("NotificationWorker"),
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// JobQueue is implemented by *queue.Queue
type JobQueue interface {
	Name() string
	PromoteDue(ctx context.Context, limit int) (int64, error)
	Next(ctx context.Context, timeout time.Duration) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job) error
	Failed(ctx context.Context, job *models.Job, cause error) (bool, error)
}

// JobHandler runs one job. A returned error counts as a failed attempt.
type JobHandler func(ctx context.Context, data json.RawMessage) error

// JobWorker runs side-effect jobs from the queue
type JobWorker struct {
	queue        JobQueue
	handlers     map[string]JobHandler
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewJobWorker creates a new job worker
func NewJobWorker(queue JobQueue, pollInterval time.Duration) *JobWorker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &JobWorker{
		queue:        queue,
		handlers:     make(map[string]JobHandler),
		pollInterval: pollInterval,
		logger:       util.ComponentLogger("JobWorker"),
	}
}

// Register sets the handler for jobs named name
func (w *JobWorker) Register(name string, handler JobHandler) {
	w.handlers[name] = handler
}

// Start processes jobs until ctx is cancelled
func (w *JobWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting job worker", zap.String("queue", w.queue.Name()))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Job worker stopping", zap.String("queue", w.queue.Name()))
			return ctx.Err()
		default:
		}

		if _, err := w.processNext(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Error processing job queue", zap.Error(err))
			time.Sleep(w.pollInterval)
		}
	}
}

// processNext promotes due jobs and runs at most one. It reports whether a
// job was run.
func (w *JobWorker) processNext(ctx context.Context) (bool, error) {
	if _, err := w.queue.PromoteDue(ctx, promoteBatch); err != nil {
		return false, fmt.Errorf("failed to promote due jobs: %w", err)
	}

	job, err := w.queue.Next(ctx, w.pollInterval)
	if err != nil {
		return false, fmt.Errorf("failed to fetch job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.run(ctx, job)
	return true, nil
}

func (w *JobWorker) run(ctx context.Context, job *models.Job) {
	ctx, span := util.StartSpan(ctx, "JobWorker."+job.Name)
	defer span.End()

	var runErr error
	if handler, ok := w.handlers[job.Name]; ok {
		runErr = handler(ctx, job.Data)
	} else {
		runErr = fmt.Errorf("no handler for job %s", job.Name)
	}

	if runErr == nil {
		if err := w.queue.Complete(ctx, job); err != nil {
			w.logger.Error("Failed to complete job",
				zap.String("job_id", job.ID),
				zap.Error(err))
		}
		util.JobsProcessedTotal.WithLabelValues(job.Name, "completed").Inc()
		return
	}

	util.RecordSpanError(span, runErr)

	retrying, err := w.queue.Failed(ctx, job, runErr)
	if err != nil {
		w.logger.Error("Failed to record job failure",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}

	result := "failed"
	if retrying {
		result = "retrying"
	}
	util.JobsProcessedTotal.WithLabelValues(job.Name, result).Inc()

	fields := append(util.TraceFields(ctx),
		zap.String("job_id", job.ID),
		zap.String("job", job.Name),
		zap.Int("attempts_made", job.AttemptsMade),
		zap.Bool("retrying", retrying),
		zap.Error(runErr))
	w.logger.Warn("Job attempt failed", fields...)
}

// MailSender is implemented by *notify.Mailer
type MailSender interface {
	Send(ctx context.Context, job models.MailJob) error
}

// ChatSender is implemented by *notify.ChatNotifier
type ChatSender interface {
	Send(ctx context.Context, text string) error
}

// OrderExpirer is implemented by *service.OrderService
type OrderExpirer interface {
	ExpireUnpaidOrder(ctx context.Context, orderID int64) error
}

// AdminNotifier is implemented by *service.NotificationService
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, job models.NotifyAdminsJob) error
}

var errBadPayload = errors.New("malformed job payload")

// MailHandler runs send-mail jobs
func MailHandler(mailer MailSender) JobHandler {
	return func(ctx context.Context, data json.RawMessage) error {
		var job models.MailJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return mailer.Send(ctx, job)
	}
}

// ChatHandler runs send-chat jobs
func ChatHandler(chat ChatSender) JobHandler {
	return func(ctx context.Context, data json.RawMessage) error {
		var job models.ChatJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return chat.Send(ctx, job.Text)
	}
}

// ExpireOrderHandler runs expire-unpaid-order jobs
func ExpireOrderHandler(orders OrderExpirer) JobHandler {
	return func(ctx context.Context, data json.RawMessage) error {
		var job models.ExpireOrderJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return orders.ExpireUnpaidOrder(ctx, job.OrderID)
	}
}

// NotifyAdminsHandler runs notify-admins jobs
func NotifyAdminsHandler(notifier AdminNotifier) JobHandler {
	return func(ctx context.Context, data json.RawMessage) error {
		var job models.NotifyAdminsJob
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return notifier.NotifyAdmins(ctx, job)
	}
}
