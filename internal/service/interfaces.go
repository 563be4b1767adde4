package service

import (
	"context"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/store"
)

// OrderRepository is the order and payment storage used by the lifecycle.
// Implemented by *store.Store.
type OrderRepository interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetPaymentByTransactionCode(ctx context.Context, orderID int64, transactionCode string) (*models.Payment, error)
	WithTransaction(ctx context.Context, fn func(tx store.Tx) error) error
}

// EventPublisher is implemented by *broker.EventPublisher
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// JobScheduler is implemented by *queue.Queue
type JobScheduler interface {
	Enqueue(ctx context.Context, jobName string, payload interface{}, policy models.RetryPolicy) (string, error)
	Schedule(ctx context.Context, jobID, jobName string, payload interface{}, runAt time.Time, policy models.RetryPolicy) error
	Cancel(ctx context.Context, jobID string) (bool, error)
}

// SignatureVerifier is implemented by *signature.Verifier
type SignatureVerifier interface {
	Verify(payload *models.WebhookPayload, signature string) bool
}

// PayoutOrchestrator is implemented by *payout.Orchestrator
type PayoutOrchestrator interface {
	CreatePayout(ctx context.Context, orderID int64, items []models.OrderItem) (*models.PayoutInfo, error)
}

// StockCache is implemented by *redisclient.Client
type StockCache interface {
	RestoreStock(ctx context.Context, variantID int64, quantity int) (bool, error)
}

// IdempotencyStore is implemented by *redisclient.Client
type IdempotencyStore interface {
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ClearProcessed(ctx context.Context, key string) error
}

// RPCCaller is implemented by *rpc.Client
type RPCCaller interface {
	Call(ctx context.Context, target, pattern string, req, resp interface{}) error
}

// OrderRejecter is implemented by *RejectionCoordinator
type OrderRejecter interface {
	RejectOrder(ctx context.Context, req RejectOrderRequest) (*RejectOrderResponse, error)
	CancelUnpaidOrder(ctx context.Context, orderID int64) (*RejectOrderResponse, error)
}
