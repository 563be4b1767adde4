package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-lifecycle/internal/apperror"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"

	"go.uber.org/zap"
)

const rejectionComponent = "RejectionCoordinator"

// Rejection outcomes
const (
	StatusKeySuccess   = "SUCCESS"
	StatusKeyUnchanged = "UNCHANGED"
)

// RejectedDescription is reported when the order was already cancelled
const RejectedDescription = "Order has been rejected"

// SystemUserID identifies rejections made by the service itself
const SystemUserID int64 = 0

// RejectOrderRequest names the order and the user rejecting it
type RejectOrderRequest struct {
	OrderID int64 `json:"orderId"`
	UserID  int64 `json:"userId"`
}

// RefundPayout is the payout made for a rejected paid order
type RefundPayout struct {
	models.PayoutInfo
	UserID       int64 `json:"userId"`
	UserRejectID int64 `json:"userRejectId"`
}

// RejectionData is the body of a rejection response
type RejectionData struct {
	Status        string               `json:"status"`
	OrderID       int64                `json:"orderId"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod,omitempty"`
	RejectedAt    *time.Time           `json:"rejectedAt,omitempty"`
	PayoutInfo    *RefundPayout        `json:"payoutInfo,omitempty"`
	Description   string               `json:"description,omitempty"`
}

// RejectOrderResponse is the outcome of a rejection or an expiry cancel
type RejectOrderResponse struct {
	StatusKey string        `json:"statusKey"`
	Data      RejectionData `json:"data"`
}

// RejectionCoordinator cancels orders and refunds them when they were paid by
// bank transfer
type RejectionCoordinator struct {
	orders    OrderRepository
	payouts   PayoutOrchestrator
	inventory *InventoryClient
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewRejectionCoordinator creates a new rejection coordinator
func NewRejectionCoordinator(
	orders OrderRepository,
	payouts PayoutOrchestrator,
	inventory *InventoryClient,
	publisher EventPublisher,
) *RejectionCoordinator {
	return &RejectionCoordinator{
		orders:    orders,
		payouts:   payouts,
		inventory: inventory,
		publisher: publisher,
		logger:    util.ComponentLogger(rejectionComponent),
		now:       time.Now,
	}
}

// RejectOrder cancels an order. Rejecting an order that is already cancelled
// reports UNCHANGED.
func (c *RejectionCoordinator) RejectOrder(ctx context.Context, req RejectOrderRequest) (*RejectOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "RejectionCoordinator.RejectOrder")
	defer span.End()

	order, err := c.orders.GetOrderByID(ctx, req.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound(apperror.KeyOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, handleError(c.logger, rejectionComponent, "RejectOrder", err)
	}

	if order.Status == models.OrderStatusCancelled {
		util.OrdersRejectedTotal.WithLabelValues(string(order.PaymentMethod), rejectionResult(StatusKeyUnchanged)).Inc()
		return unchangedResponse(order.ID), nil
	}

	items, err := c.orders.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, handleError(c.logger, rejectionComponent, "RejectOrder", err)
	}
	order.Items = items

	var resp *RejectOrderResponse
	switch order.PaymentMethod {
	case models.PaymentMethodCash:
		resp, err = c.cancelWithoutPayout(ctx, order, req.UserID)
	case models.PaymentMethodBankTransfer:
		if order.PaymentStatus == models.PaymentStatusPaid {
			resp, err = c.cancelWithPayout(ctx, order, req.UserID)
		} else {
			resp, err = c.cancelWithoutPayout(ctx, order, req.UserID)
		}
	default:
		util.OrdersRejectedTotal.WithLabelValues(string(order.PaymentMethod), "unsupported").Inc()
		return nil, apperror.BadRequest(apperror.KeyUnsupportedMethod, "unsupported payment method")
	}

	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues(string(order.PaymentMethod), "error").Inc()
		util.RecordSpanError(span, err)
		return nil, err
	}

	util.OrdersRejectedTotal.WithLabelValues(string(order.PaymentMethod), rejectionResult(resp.StatusKey)).Inc()
	return resp, nil
}

// rejectionResult is the orders_rejected_total result label for a status key
func rejectionResult(statusKey string) string {
	return strings.ToLower(statusKey)
}

// CancelUnpaidOrder cancels an order only while no payment has been recorded
// for it. It never requests a payout; an order that got paid in the meantime
// yields CONFLICT.
func (c *RejectionCoordinator) CancelUnpaidOrder(ctx context.Context, orderID int64) (*RejectOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "RejectionCoordinator.CancelUnpaidOrder")
	defer span.End()

	order, err := c.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound(apperror.KeyOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, handleError(c.logger, rejectionComponent, "CancelUnpaidOrder", err)
	}

	if order.Status == models.OrderStatusCancelled {
		return unchangedResponse(order.ID), nil
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, apperror.Conflict(apperror.KeyOrderStateChanged,
			fmt.Sprintf("order %d has been paid", orderID), nil)
	}

	items, err := c.orders.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, handleError(c.logger, rejectionComponent, "CancelUnpaidOrder", err)
	}
	order.Items = items

	resp, err := c.cancelWithoutPayout(ctx, order, SystemUserID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	util.OrdersRejectedTotal.WithLabelValues(string(order.PaymentMethod), "expired").Inc()
	return resp, nil
}

// cancelWithoutPayout cancels an order no money was received for. A pending
// payment status becomes FAILED.
func (c *RejectionCoordinator) cancelWithoutPayout(ctx context.Context, order *models.Order, rejectedBy int64) (*RejectOrderResponse, error) {
	err := c.orders.WithTransaction(ctx, func(tx store.Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status == models.OrderStatusCancelled {
			return store.ErrAlreadyCancelled
		}
		if current.PaymentMethod == models.PaymentMethodBankTransfer && current.PaymentStatus == models.PaymentStatusPaid {
			return apperror.Conflict(apperror.KeyOrderStateChanged,
				fmt.Sprintf("order %d was paid while being rejected", order.ID), nil)
		}

		paymentStatus := current.PaymentStatus
		if paymentStatus == models.PaymentStatusPending {
			paymentStatus = models.PaymentStatusFailed
		}
		if err := tx.CancelOrder(ctx, order.ID, paymentStatus); err != nil {
			return err
		}
		return tx.RestockItems(ctx, order.Items)
	})
	if errors.Is(err, store.ErrAlreadyCancelled) {
		return unchangedResponse(order.ID), nil
	}
	if err != nil {
		return nil, handleError(c.logger, rejectionComponent, "cancelWithoutPayout", err)
	}

	c.logger.Info("Order rejected",
		zap.Int64("order_id", order.ID),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.Int64("rejected_by", rejectedBy))

	c.afterCancel(ctx, order, rejectedBy, nil)

	rejectedAt := c.now()
	return &RejectOrderResponse{
		StatusKey: StatusKeySuccess,
		Data: RejectionData{
			Status:        StatusKeySuccess,
			OrderID:       order.ID,
			PaymentMethod: order.PaymentMethod,
			RejectedAt:    &rejectedAt,
		},
	}, nil
}

// cancelWithPayout refunds a paid bank transfer, then cancels the order and
// records the payout. The payout is keyed by order id at the gateway, so a
// retried rejection does not transfer twice.
func (c *RejectionCoordinator) cancelWithPayout(ctx context.Context, order *models.Order, rejectedBy int64) (*RejectOrderResponse, error) {
	payout, err := c.payouts.CreatePayout(ctx, order.ID, order.Items)
	if err != nil {
		return nil, handleError(c.logger, rejectionComponent, "CreatePayout", err)
	}

	err = c.orders.WithTransaction(ctx, func(tx store.Tx) error {
		current, err := tx.GetOrderForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status == models.OrderStatusCancelled {
			return store.ErrAlreadyCancelled
		}
		if err := tx.CancelOrder(ctx, order.ID, current.PaymentStatus); err != nil {
			return err
		}
		if err := tx.RestockItems(ctx, order.Items); err != nil {
			return err
		}
		return tx.CreatePayment(ctx, &models.Payment{
			OrderID:         order.ID,
			Amount:          payout.AmountRefunded,
			TransactionCode: payout.TransactionCode,
			AccountNumber:   payout.ToAccountNumber,
			BankCode:        payout.BankCode,
			PaymentType:     models.PaymentTypePayout,
			Status:          models.PaymentRecordProcessing,
		})
	})
	if errors.Is(err, store.ErrAlreadyCancelled) {
		c.logger.Warn("Order cancelled concurrently after payout was requested",
			zap.Int64("order_id", order.ID),
			zap.String("transaction_code", payout.TransactionCode))
		return unchangedResponse(order.ID), nil
	}
	if err != nil {
		c.logger.Error("Payout sent but rejection was not persisted",
			zap.Int64("order_id", order.ID),
			zap.String("transaction_code", payout.TransactionCode))
		return nil, handleError(c.logger, rejectionComponent, "cancelWithPayout", err)
	}

	c.logger.Info("Order rejected and refunded",
		zap.Int64("order_id", order.ID),
		zap.String("transaction_code", payout.TransactionCode),
		zap.String("amount", payout.AmountRefunded.String()),
		zap.Int64("rejected_by", rejectedBy))

	c.afterCancel(ctx, order, rejectedBy, payout)

	return &RejectOrderResponse{
		StatusKey: StatusKeySuccess,
		Data: RejectionData{
			Status:        StatusKeySuccess,
			OrderID:       order.ID,
			PaymentMethod: order.PaymentMethod,
			PayoutInfo: &RefundPayout{
				PayoutInfo:   *payout,
				UserID:       order.UserID,
				UserRejectID: rejectedBy,
			},
		},
	}, nil
}

func (c *RejectionCoordinator) afterCancel(ctx context.Context, order *models.Order, rejectedBy int64, payout *models.PayoutInfo) {
	if c.inventory != nil {
		c.inventory.RestoreCachedStock(ctx, order.Items)
	}

	event := models.NewOrderCancelledEvent(order, rejectedBy, payout)
	if err := c.publisher.PublishOrderCancelled(ctx, event); err != nil {
		c.logger.Error("Failed to publish OrderCancelled event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func unchangedResponse(orderID int64) *RejectOrderResponse {
	return &RejectOrderResponse{
		StatusKey: StatusKeyUnchanged,
		Data: RejectionData{
			Status:      StatusKeyUnchanged,
			OrderID:     orderID,
			Description: RejectedDescription,
		},
	}
}
