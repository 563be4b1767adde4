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

	"go.uber.org/zap"
)

const orderComponent = "OrderService"

// OrderService serves order reads and the unpaid-order expiry lifecycle
type OrderService struct {
	orders    OrderRepository
	scheduler JobScheduler
	rejecter  OrderRejecter
	unpaidTTL time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderRepository,
	scheduler JobScheduler,
	rejecter OrderRejecter,
	unpaidTTL time.Duration,
) *OrderService {
	return &OrderService{
		orders:    orders,
		scheduler: scheduler,
		rejecter:  rejecter,
		unpaidTTL: unpaidTTL,
		logger:    util.ComponentLogger(orderComponent),
		now:       time.Now,
	}
}

// ScheduleExpiryResponse tells the caller when an unpaid order will be cancelled
type ScheduleExpiryResponse struct {
	OrderID   int64     `json:"orderId"`
	JobID     string    `json:"jobId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound(apperror.KeyOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, handleError(s.logger, orderComponent, "GetOrder", err)
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, handleError(s.logger, orderComponent, "GetOrder", err)
	}
	order.Items = items

	return order, nil
}

// ScheduleExpiry arranges for an unpaid bank transfer order to be cancelled
// once the payment window closes. Scheduling again moves the deadline.
func (s *OrderService) ScheduleExpiry(ctx context.Context, orderID int64) (*ScheduleExpiryResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ScheduleExpiry")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound(apperror.KeyOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, handleError(s.logger, orderComponent, "ScheduleExpiry", err)
	}

	if order.PaymentMethod != models.PaymentMethodBankTransfer {
		return nil, apperror.BadRequest(apperror.KeyUnsupportedMethod,
			fmt.Sprintf("order %d is not paid by bank transfer", orderID))
	}
	if order.Status != models.OrderStatusPending || order.PaymentStatus == models.PaymentStatusPaid {
		return nil, apperror.BadRequest(apperror.KeyOrderStateChanged,
			fmt.Sprintf("order %d is no longer awaiting payment", orderID))
	}

	jobID := models.ExpireOrderJobID(orderID)
	expiresAt := s.now().Add(s.unpaidTTL)
	policy := models.RetryPolicy{
		Attempts:         3,
		Backoff:          models.Backoff{Type: models.BackoffFixed, Delay: 5000},
		RemoveOnComplete: true,
	}

	err = s.scheduler.Schedule(ctx, jobID, models.JobExpireOrder, models.ExpireOrderJob{OrderID: orderID}, expiresAt, policy)
	if err != nil {
		return nil, handleError(s.logger, orderComponent, "ScheduleExpiry", err)
	}

	s.logger.Info("Order expiry scheduled",
		zap.Int64("order_id", orderID),
		zap.Time("expires_at", expiresAt))

	return &ScheduleExpiryResponse{OrderID: orderID, JobID: jobID, ExpiresAt: expiresAt}, nil
}

// ExpireUnpaidOrder cancels a bank transfer order whose payment never
// arrived. Orders that were paid or already left PENDING are left alone.
func (s *OrderService) ExpireUnpaidOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.ExpireUnpaidOrder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Expiry fired for unknown order", zap.Int64("order_id", orderID))
		return nil
	}
	if err != nil {
		return handleError(s.logger, orderComponent, "ExpireUnpaidOrder", err)
	}

	if order.PaymentMethod != models.PaymentMethodBankTransfer ||
		order.Status != models.OrderStatusPending ||
		order.PaymentStatus == models.PaymentStatusPaid {
		s.logger.Debug("Order not awaiting payment, expiry skipped",
			zap.Int64("order_id", orderID),
			zap.String("status", string(order.Status)),
			zap.String("payment_status", string(order.PaymentStatus)))
		return nil
	}

	resp, err := s.rejecter.CancelUnpaidOrder(ctx, orderID)
	if apperror.HasCode(err, apperror.CodeConflict) {
		s.logger.Info("Order paid before expiry completed", zap.Int64("order_id", orderID))
		return nil
	}
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}

	s.logger.Info("Unpaid order expired",
		zap.Int64("order_id", orderID),
		zap.String("status_key", resp.StatusKey))
	return nil
}
