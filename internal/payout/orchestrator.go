package payout

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

// PaymentLookup finds the payin a refund is sent back to
type PaymentLookup interface {
	GetLatestPayment(ctx context.Context, orderID int64, paymentType models.PaymentType) (*models.Payment, error)
}

// Gateway executes transfers
type Gateway interface {
	CreatePayout(ctx context.Context, idempotencyKey string, req PayoutRequest) (*PayoutResult, error)
}

// Orchestrator refunds a paid order to the account it was paid from
type Orchestrator struct {
	payments PaymentLookup
	gateway  Gateway
	logger   *zap.Logger
}

// NewOrchestrator creates a new payout orchestrator
func NewOrchestrator(payments PaymentLookup, gateway Gateway) *Orchestrator {
	return &Orchestrator{
		payments: payments,
		gateway:  gateway,
		logger:   util.ComponentLogger("payout"),
	}
}

// RefundReference is the gateway reference and idempotency key for an order's refund
func RefundReference(orderID int64) string {
	return fmt.Sprintf("REFUND-%d", orderID)
}

// CreatePayout refunds the sum of the item subtotals to the customer's
// counter account recorded on the latest payin.
func (o *Orchestrator) CreatePayout(ctx context.Context, orderID int64, items []models.OrderItem) (*models.PayoutInfo, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.CreatePayout")
	defer span.End()

	payin, err := o.payments.GetLatestPayment(ctx, orderID, models.PaymentTypePayin)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound(apperror.KeyPaymentNotFound, fmt.Sprintf("no payin recorded for order %d", orderID))
	}
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	if payin.AccountNumber == "" || payin.BankCode == "" {
		return nil, apperror.BadRequest(apperror.KeyInvalidInput,
			fmt.Sprintf("payin for order %d has no refundable account", orderID))
	}

	amount := decimal.Zero
	for _, item := range items {
		amount = amount.Add(item.Subtotal())
	}
	if !amount.IsPositive() {
		return nil, apperror.BadRequest(apperror.KeyInvalidInput,
			fmt.Sprintf("order %d has nothing to refund", orderID))
	}

	reference := RefundReference(orderID)
	start := time.Now()
	result, err := o.gateway.CreatePayout(ctx, reference, PayoutRequest{
		ReferenceID:     reference,
		Amount:          amount,
		Description:     fmt.Sprintf("Refund order %d", orderID),
		ToBin:           payin.BankCode,
		ToAccountNumber: payin.AccountNumber,
	})
	util.PayoutLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, ErrRejected) {
		util.PayoutsTotal.WithLabelValues("rejected").Inc()
		util.RecordSpanError(span, err)
		o.logger.Error("Payout rejected",
			zap.Int64("order_id", orderID),
			zap.String("reference", reference),
			zap.Error(err))
		return nil, apperror.Wrap(apperror.CodeBadRequest, apperror.KeyPayoutRejected, "payout rejected by gateway", err)
	}
	if err != nil {
		util.PayoutsTotal.WithLabelValues("failed").Inc()
		util.RecordSpanError(span, err)
		o.logger.Error("Payout failed",
			zap.Int64("order_id", orderID),
			zap.String("reference", reference),
			zap.Error(err))
		return nil, apperror.ServiceUnavailable("payment gateway unavailable", err)
	}

	util.PayoutsTotal.WithLabelValues("succeeded").Inc()
	o.logger.Info("Payout accepted",
		zap.Int64("order_id", orderID),
		zap.String("reference", reference),
		zap.String("payout_id", result.ID),
		zap.String("amount", amount.String()))

	transactionCode := result.ID
	if transactionCode == "" {
		transactionCode = reference
	}

	return &models.PayoutInfo{
		BankCode:        payin.BankCode,
		ToAccountNumber: payin.AccountNumber,
		TransactionCode: transactionCode,
		AmountRefunded:  amount,
	}, nil
}
