package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func newBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderCreatedEvent is emitted once per successful payment and drives the
// admin mail and chat fan-out.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID int64    `json:"order_id"`
	UserID  int64    `json:"user_id"`
	Order   *Order   `json:"order"`
	Payment *Payment `json:"payment"`
}

// OrderCancelledEvent published when an order is rejected
type OrderCancelledEvent struct {
	BaseEvent
	OrderID       int64         `json:"order_id"`
	UserID        int64         `json:"user_id"`
	RejectedBy    int64         `json:"rejected_by"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Payout        *PayoutInfo   `json:"payout,omitempty"`
}

func NewOrderCreatedEvent(order *Order, payment *Payment) *OrderCreatedEvent {
	return &OrderCreatedEvent{
		BaseEvent: newBaseEvent(EventTypeOrderCreated),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Order:     order,
		Payment:   payment,
	}
}

func NewOrderCancelledEvent(order *Order, rejectedBy int64, payout *PayoutInfo) *OrderCancelledEvent {
	return &OrderCancelledEvent{
		BaseEvent:     newBaseEvent(EventTypeOrderCancelled),
		OrderID:       order.ID,
		UserID:        order.UserID,
		RejectedBy:    rejectedBy,
		PaymentMethod: order.PaymentMethod,
		Payout:        payout,
	}
}
