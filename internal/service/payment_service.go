package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-lifecycle/internal/apperror"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const paymentComponent = "PaymentService"

// Webhook outcomes
const (
	WebhookStatusPaid   = "PAID"
	WebhookStatusFailed = "FAILED"
)

// PaymentService records gateway payments against orders
type PaymentService struct {
	orders    OrderRepository
	verifier  SignatureVerifier
	scheduler JobScheduler
	publisher EventPublisher
	policy    models.RetryPolicy
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	orders OrderRepository,
	verifier SignatureVerifier,
	scheduler JobScheduler,
	publisher EventPublisher,
	alertPolicy models.RetryPolicy,
) *PaymentService {
	return &PaymentService{
		orders:    orders,
		verifier:  verifier,
		scheduler: scheduler,
		publisher: publisher,
		policy:    alertPolicy,
		logger:    util.ComponentLogger(paymentComponent),
	}
}

// PaymentPaidCommand is a settled incoming transfer. The account fields
// describe the customer's side of the transfer.
type PaymentPaidCommand struct {
	OrderID         int64
	Amount          decimal.Decimal
	PaymentMethod   models.PaymentMethod
	TransactionCode string
	AccountNumber   string
	AccountName     string
	BankCode        string
}

// PaymentPaidResult holds the order and the payin recorded for it
type PaymentPaidResult struct {
	Order   *models.Order
	Payment *models.Payment
}

// PaymentSummary describes a recorded payin
type PaymentSummary struct {
	Amount        decimal.Decimal `json:"amount"`
	ReferenceCode string          `json:"referenceCode"`
	PaidAt        time.Time       `json:"paidAt"`
}

// WebhookResponse is returned to the gateway
type WebhookResponse struct {
	Status  string          `json:"status"`
	Summary *PaymentSummary `json:"summary,omitempty"`
}

// HandleWebhook verifies a gateway callback and records the payment it reports.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload *models.WebhookPayload) (*WebhookResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if payload == nil || !s.verifier.Verify(payload, payload.Signature) {
		util.WebhooksReceivedTotal.WithLabelValues("invalid_signature").Inc()
		s.logger.Warn("Rejected webhook with invalid signature")
		return nil, apperror.BadRequest(apperror.KeyInvalidSignature, "invalid webhook signature")
	}

	if payload.Code != models.GatewayCodeSuccess || !payload.Success {
		util.WebhooksReceivedTotal.WithLabelValues("failed").Inc()
		s.logger.Info("Gateway reported an unsuccessful payment",
			zap.Int64("order_id", payload.Data.OrderCode),
			zap.String("code", payload.Code),
			zap.String("desc", payload.Desc))
		return &WebhookResponse{Status: WebhookStatusFailed}, nil
	}

	cmd := commandFromWebhook(&payload.Data)
	result, err := s.HandlePaymentPaid(ctx, cmd)
	if apperror.HasCode(err, apperror.CodeConflict) {
		return s.replayedWebhook(ctx, cmd)
	}
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues("error").Inc()
		util.RecordSpanError(span, err)
		return nil, err
	}

	if result.Order.Status == models.OrderStatusCancelled {
		util.WebhooksReceivedTotal.WithLabelValues("paid_after_cancel").Inc()
	} else {
		util.WebhooksReceivedTotal.WithLabelValues("paid").Inc()
		util.OrdersPaidTotal.Inc()
	}

	s.afterPaid(ctx, result)

	return paidResponse(result.Payment), nil
}

// HandlePaymentPaid marks the order paid and records the payin in one
// transaction.
func (s *PaymentService) HandlePaymentPaid(ctx context.Context, cmd PaymentPaidCommand) (*PaymentPaidResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandlePaymentPaid")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, cmd.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound(apperror.KeyOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, handleError(s.logger, paymentComponent, "HandlePaymentPaid", err)
	}

	if order.Status == models.OrderStatusCancelled {
		s.logger.Warn("Payment received for a cancelled order",
			zap.Int64("order_id", order.ID),
			zap.String("transaction_code", cmd.TransactionCode))
	}

	payment := &models.Payment{
		OrderID:         order.ID,
		Amount:          cmd.Amount,
		TransactionCode: cmd.TransactionCode,
		AccountNumber:   cmd.AccountNumber,
		AccountName:     cmd.AccountName,
		BankCode:        cmd.BankCode,
		PaymentType:     models.PaymentTypePayin,
		Status:          models.PaymentRecordSucceeded,
	}

	err = s.orders.WithTransaction(ctx, func(tx store.Tx) error {
		if err := tx.MarkOrderPaid(ctx, order.ID); err != nil {
			return err
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}
		updated, err := tx.GetOrderForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		order = updated
		return nil
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, handleError(s.logger, paymentComponent, "HandlePaymentPaid", err)
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		s.logger.Warn("Failed to load items for paid order",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
	order.Items = items

	s.logger.Info("Order paid",
		zap.Int64("order_id", order.ID),
		zap.String("transaction_code", payment.TransactionCode),
		zap.String("amount", payment.Amount.String()))

	return &PaymentPaidResult{Order: order, Payment: payment}, nil
}

// replayedWebhook answers a redelivered callback from the payin already on
// record. Nothing is written and no event is emitted.
func (s *PaymentService) replayedWebhook(ctx context.Context, cmd PaymentPaidCommand) (*WebhookResponse, error) {
	existing, err := s.orders.GetPaymentByTransactionCode(ctx, cmd.OrderID, cmd.TransactionCode)
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues("error").Inc()
		return nil, handleError(s.logger, paymentComponent, "HandleWebhook", err)
	}

	util.WebhooksReceivedTotal.WithLabelValues("duplicate").Inc()
	util.DuplicateWebhooksTotal.Inc()
	s.logger.Info("Duplicate webhook ignored",
		zap.Int64("order_id", cmd.OrderID),
		zap.String("transaction_code", cmd.TransactionCode))

	return paidResponse(existing), nil
}

func (s *PaymentService) afterPaid(ctx context.Context, result *PaymentPaidResult) {
	orderID := result.Order.ID

	if _, err := s.scheduler.Cancel(ctx, models.ExpireOrderJobID(orderID)); err != nil {
		s.logger.Error("Failed to cancel order expiry job",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}

	if result.Order.Status == models.OrderStatusCancelled {
		s.alertPaidAfterCancel(ctx, result)
		return
	}

	event := models.NewOrderCreatedEvent(result.Order, result.Payment)
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

// alertPaidAfterCancel asks an operator to refund money that arrived for an
// order which was already cancelled and restocked. No order is created.
func (s *PaymentService) alertPaidAfterCancel(ctx context.Context, result *PaymentPaidResult) {
	text := fmt.Sprintf("Order #%d was paid after it was cancelled: %s (ref %s). Refund it manually.",
		result.Order.ID, result.Payment.Amount.String(), result.Payment.TransactionCode)

	if _, err := s.scheduler.Enqueue(ctx, models.JobSendChat, models.ChatJob{Text: text}, s.policy); err != nil {
		s.logger.Error("Failed to enqueue late payment alert",
			zap.Int64("order_id", result.Order.ID),
			zap.String("transaction_code", result.Payment.TransactionCode),
			zap.Error(err))
	}
}

func commandFromWebhook(data *models.WebhookData) PaymentPaidCommand {
	return PaymentPaidCommand{
		OrderID:         data.OrderCode,
		Amount:          data.Amount,
		PaymentMethod:   models.PaymentMethodBankTransfer,
		TransactionCode: data.Reference,
		AccountNumber:   data.CounterAccountNumber,
		AccountName:     data.CounterAccountName,
		BankCode:        data.CounterAccountBankID,
	}
}

func paidResponse(payment *models.Payment) *WebhookResponse {
	return &WebhookResponse{
		Status: WebhookStatusPaid,
		Summary: &PaymentSummary{
			Amount:        payment.Amount,
			ReferenceCode: payment.TransactionCode,
			PaidAt:        payment.CreatedAt,
		},
	}
}
