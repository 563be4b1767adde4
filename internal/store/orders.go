package store

import (
	"context"
	"database/sql"
	"errors"

	"order-lifecycle/internal/models"
)

const orderColumns = `id, user_id, status, payment_status, payment_method, total_price,
	delivery_address, note, created_at, updated_at`

const orderItemColumns = `id, order_id, product_variant_id, quantity, unit_price,
	product_name, product_size, note`

const paymentColumns = `id, order_id, amount, transaction_code, account_number, account_name,
	bank_code, payment_type, status, created_at`

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order in insertion order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetPaymentByTransactionCode retrieves the PAYIN row recorded for a gateway reference
func (s *Store) GetPaymentByTransactionCode(ctx context.Context, orderID int64, transactionCode string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 AND transaction_code = $2 AND payment_type = $3",
		orderID, transactionCode, models.PaymentTypePayin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetLatestPayment retrieves the most recent payment of the given type for an order
func (s *Store) GetLatestPayment(ctx context.Context, orderID int64, paymentType models.PaymentType) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 AND payment_type = $2 ORDER BY created_at DESC, id DESC LIMIT 1",
		orderID, paymentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
