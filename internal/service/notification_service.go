package service

import (
	"context"
	"fmt"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/notify"
	"order-lifecycle/internal/rpc"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
)

const eventDedupeTTL = 24 * time.Hour

// NotificationService turns order events into mail and chat jobs
type NotificationService struct {
	users       RPCCaller
	userService string
	jobs        JobScheduler
	dedupe      IdempotencyStore
	policy      models.RetryPolicy
	logger      *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	users RPCCaller,
	userService string,
	jobs JobScheduler,
	dedupe IdempotencyStore,
	policy models.RetryPolicy,
) *NotificationService {
	return &NotificationService{
		users:       users,
		userService: userService,
		jobs:        jobs,
		dedupe:      dedupe,
		policy:      policy,
		logger:      util.ComponentLogger("NotificationService"),
	}
}

// HandleOrderCreated queues the admin mails and a chat alert for a paid order.
// The admin lookup runs inside the queued job so it gets the job's retries.
func (s *NotificationService) HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleOrderCreated")
	defer span.End()

	fresh, err := s.claim(ctx, event.EventID)
	if err != nil || !fresh {
		return err
	}

	mails := models.NotifyAdminsJob{
		OrderID:  event.OrderID,
		Subject:  fmt.Sprintf("New order #%d", event.OrderID),
		Template: notify.TemplateOrderCreated,
		Context:  orderCreatedContext(event),
	}
	if err := s.queueAdminMails(ctx, event.EventID, mails); err != nil {
		util.RecordSpanError(span, err)
		return err
	}

	s.enqueue(ctx, models.JobSendChat, models.ChatJob{Text: orderCreatedText(event)}, event.OrderID)

	s.logger.Info("Order created notifications queued", zap.Int64("order_id", event.OrderID))
	return nil
}

// HandleOrderCancelled queues the admin mails and a chat alert for a rejected order
func (s *NotificationService) HandleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleOrderCancelled")
	defer span.End()

	fresh, err := s.claim(ctx, event.EventID)
	if err != nil || !fresh {
		return err
	}

	mails := models.NotifyAdminsJob{
		OrderID:  event.OrderID,
		Subject:  fmt.Sprintf("Order #%d cancelled", event.OrderID),
		Template: notify.TemplateOrderCancelled,
		Context:  orderCancelledContext(event),
	}
	if err := s.queueAdminMails(ctx, event.EventID, mails); err != nil {
		util.RecordSpanError(span, err)
		return err
	}

	s.enqueue(ctx, models.JobSendChat, models.ChatJob{Text: orderCancelledText(event)}, event.OrderID)
	return nil
}

// NotifyAdmins runs a notify-admins job: it looks up the admins and queues one
// mail for each admin with an address. A failed lookup fails the job so the
// queue retries it.
func (s *NotificationService) NotifyAdmins(ctx context.Context, job models.NotifyAdminsJob) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.NotifyAdmins")
	defer span.End()

	var admins []models.AdminContact
	if err := s.users.Call(ctx, s.userService, rpc.PatternGetAllAdmins, struct{}{}, &admins); err != nil {
		util.RecordSpanError(span, err)
		return fmt.Errorf("failed to load admins: %w", err)
	}

	queued := 0
	for _, admin := range admins {
		if admin.Email == "" {
			continue
		}
		mail := models.MailJob{
			To:       admin.Email,
			Subject:  job.Subject,
			Template: job.Template,
			Context:  withAdminName(job.Context, admin),
		}
		if s.enqueue(ctx, models.JobSendMail, mail, job.OrderID) {
			queued++
		}
	}

	s.logger.Info("Admin mails queued",
		zap.Int64("order_id", job.OrderID),
		zap.String("template", job.Template),
		zap.Int("admins", len(admins)),
		zap.Int("queued", queued))
	return nil
}

// queueAdminMails hands the admin fan-out to the job queue. On failure the
// event claim is released so the redelivered event is handled again.
func (s *NotificationService) queueAdminMails(ctx context.Context, eventID string, job models.NotifyAdminsJob) error {
	if _, err := s.jobs.Enqueue(ctx, models.JobNotifyAdmins, job, s.policy); err != nil {
		s.release(ctx, eventID)
		return fmt.Errorf("failed to queue admin mails for order %d: %w", job.OrderID, err)
	}
	return nil
}

// claim reports whether this is the first delivery of eventID
func (s *NotificationService) claim(ctx context.Context, eventID string) (bool, error) {
	fresh, err := s.dedupe.MarkProcessed(ctx, "event:"+eventID, eventDedupeTTL)
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	if !fresh {
		s.logger.Info("Event already processed", zap.String("event_id", eventID))
	}
	return fresh, nil
}

func (s *NotificationService) release(ctx context.Context, eventID string) {
	if err := s.dedupe.ClearProcessed(ctx, "event:"+eventID); err != nil {
		s.logger.Error("Failed to release event claim",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

// enqueue queues a best-effort job and reports whether it was queued
func (s *NotificationService) enqueue(ctx context.Context, jobName string, payload interface{}, orderID int64) bool {
	if _, err := s.jobs.Enqueue(ctx, jobName, payload, s.policy); err != nil {
		s.logger.Error("Failed to enqueue notification job",
			zap.String("job", jobName),
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return false
	}
	return true
}

func withAdminName(base map[string]interface{}, admin models.AdminContact) map[string]interface{} {
	ctx := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		ctx[k] = v
	}
	ctx["adminName"] = admin.Name
	return ctx
}

func orderCreatedContext(event *models.OrderCreatedEvent) map[string]interface{} {
	ctx := map[string]interface{}{
		"orderId": event.OrderID,
		"userId":  event.UserID,
	}

	if event.Payment != nil {
		ctx["amount"] = event.Payment.Amount.String()
		ctx["reference"] = event.Payment.TransactionCode
	}

	if event.Order != nil {
		ctx["deliveryAddress"] = event.Order.DeliveryAddress
		items := make([]map[string]interface{}, 0, len(event.Order.Items))
		for _, item := range event.Order.Items {
			items = append(items, map[string]interface{}{
				"productName": item.ProductName,
				"productSize": item.ProductSize,
				"quantity":    item.Quantity,
				"unitPrice":   item.UnitPrice.String(),
			})
		}
		ctx["items"] = items
	}

	return ctx
}

func orderCancelledContext(event *models.OrderCancelledEvent) map[string]interface{} {
	ctx := map[string]interface{}{
		"orderId":       event.OrderID,
		"userId":        event.UserID,
		"paymentMethod": string(event.PaymentMethod),
	}
	if event.Payout != nil {
		ctx["amountRefunded"] = event.Payout.AmountRefunded.String()
		ctx["toAccountNumber"] = event.Payout.ToAccountNumber
		ctx["reference"] = event.Payout.TransactionCode
	}
	return ctx
}

func orderCreatedText(event *models.OrderCreatedEvent) string {
	if event.Payment == nil {
		return fmt.Sprintf("Order #%d has been paid", event.OrderID)
	}
	return fmt.Sprintf("Order #%d has been paid: %s (ref %s)",
		event.OrderID, event.Payment.Amount.String(), event.Payment.TransactionCode)
}

func orderCancelledText(event *models.OrderCancelledEvent) string {
	if event.Payout == nil {
		return fmt.Sprintf("Order #%d (%s) was rejected", event.OrderID, event.PaymentMethod)
	}
	return fmt.Sprintf("Order #%d (%s) was rejected, refunded %s to %s (ref %s)",
		event.OrderID, event.PaymentMethod, event.Payout.AmountRefunded.String(),
		event.Payout.ToAccountNumber, event.Payout.TransactionCode)
}
