package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-lifecycle/internal/models"

	"github.com/jmoiron/sqlx"
)

// Tx is the set of writes that must happen atomically. It is only available
// inside Store.WithTransaction.
type Tx interface {
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID int64) error
	CancelOrder(ctx context.Context, orderID int64, paymentStatus models.PaymentStatus) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	RestockItems(ctx context.Context, items []models.OrderItem) error
}

type sqlTx struct {
	tx *sqlx.Tx
}

// GetOrderForUpdate reads an order and holds its row lock until the
// transaction ends
func (t *sqlTx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkOrderPaid sets payment_status to PAID and advances a PENDING order to PAID
func (t *sqlTx) MarkOrderPaid(ctx context.Context, orderID int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1,
			status = CASE WHEN status = $2 THEN $3 ELSE status END,
			updated_at = NOW()
		WHERE id = $4`,
		models.PaymentStatusPaid, models.OrderStatusPending, models.OrderStatusPaid, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}
	return expectRow(res)
}

// CancelOrder moves an order to CANCELLED. It returns ErrAlreadyCancelled when
// another transaction got there first.
func (t *sqlTx) CancelOrder(ctx context.Context, orderID int64, paymentStatus models.PaymentStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, updated_at = NOW()
		WHERE id = $3 AND status <> $1`,
		models.OrderStatusCancelled, paymentStatus, orderID)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	if err := expectRow(res); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrAlreadyCancelled
		}
		return err
	}
	return nil
}

// CreatePayment appends a payment row. A second PAYIN for the same
// (order_id, transaction_code) yields ErrDuplicate.
func (t *sqlTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, transaction_code, account_number, account_name,
			bank_code, payment_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := t.tx.QueryRowxContext(ctx, query,
		payment.OrderID, payment.Amount, payment.TransactionCode, payment.AccountNumber,
		payment.AccountName, payment.BankCode, payment.PaymentType, payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("payment %s for order %d: %w", payment.TransactionCode, payment.OrderID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// RestockItems returns the items' quantities to their product variants
func (t *sqlTx) RestockItems(ctx context.Context, items []models.OrderItem) error {
	for _, item := range items {
		_, err := t.tx.ExecContext(ctx,
			"UPDATE product_variants SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2",
			item.Quantity, item.ProductVariantID)
		if err != nil {
			return fmt.Errorf("failed to restock variant %d: %w", item.ProductVariantID, err)
		}
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
