package api

import (
	"context"
	"encoding/json"

	"order-lifecycle/internal/apperror"
	"order-lifecycle/internal/rpc"
	"order-lifecycle/internal/service"
)

// ExpiryScheduler is implemented by *service.OrderService
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, orderID int64) (*service.ScheduleExpiryResponse, error)
}

// RPCRegistrar is implemented by *rpc.Server
type RPCRegistrar interface {
	Handle(pattern string, h rpc.HandlerFunc)
}

type orderIDRequest struct {
	OrderID int64 `json:"orderId"`
}

// RegisterRPCHandlers exposes order operations to other services
func RegisterRPCHandlers(server RPCRegistrar, orders OrderReader, expiry ExpiryScheduler) {
	server.Handle(rpc.PatternGetOrderByID, func(ctx context.Context, data json.RawMessage) (interface{}, error) {
		orderID, err := decodeOrderID(data)
		if err != nil {
			return nil, err
		}
		return orders.GetOrder(ctx, orderID)
	})

	server.Handle(rpc.PatternScheduleOrderExpiry, func(ctx context.Context, data json.RawMessage) (interface{}, error) {
		orderID, err := decodeOrderID(data)
		if err != nil {
			return nil, err
		}
		return expiry.ScheduleExpiry(ctx, orderID)
	})
}

func decodeOrderID(data json.RawMessage) (int64, error) {
	var req orderIDRequest
	if err := json.Unmarshal(data, &req); err != nil || req.OrderID <= 0 {
		return 0, apperror.BadRequest(apperror.KeyInvalidInput, "orderId is required")
	}
	return req.OrderID, nil
}
