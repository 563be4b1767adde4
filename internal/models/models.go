package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

type PaymentStatus string

type PaymentMethod string

type PaymentType string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// Order payment statuses
const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

const (
	PaymentTypePayin  PaymentType = "PAYIN"
	PaymentTypePayout PaymentType = "PAYOUT"
)

// Payment ledger row statuses
const (
	PaymentRecordSucceeded  = "SUCCEEDED"
	PaymentRecordProcessing = "PROCESSING"
)

// Order represents a customer order
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"userId"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"paymentStatus"`
	PaymentMethod   PaymentMethod   `db:"payment_method" json:"paymentMethod"`
	TotalPrice      decimal.Decimal `db:"total_price" json:"totalPrice"`
	DeliveryAddress string          `db:"delivery_address" json:"deliveryAddress"`
	Note            string          `db:"note" json:"note,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
	Items           []OrderItem     `db:"-" json:"items,omitempty"`
}

// OrderItem is a snapshot of a purchased product variant
type OrderItem struct {
	ID               int64           `db:"id" json:"id"`
	OrderID          int64           `db:"order_id" json:"orderId"`
	ProductVariantID int64           `db:"product_variant_id" json:"productVariantId"`
	Quantity         int             `db:"quantity" json:"quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unitPrice"`
	ProductName      string          `db:"product_name" json:"productName"`
	ProductSize      string          `db:"product_size" json:"productSize"`
	Note             string          `db:"note" json:"note,omitempty"`
}

// Subtotal returns quantity * unit price
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Payment is an append-only ledger entry for money moving in or out of an order
type Payment struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"orderId"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	TransactionCode string          `db:"transaction_code" json:"transactionCode"`
	AccountNumber   string          `db:"account_number" json:"accountNumber"`
	AccountName     string          `db:"account_name" json:"accountName,omitempty"`
	BankCode        string          `db:"bank_code" json:"bankCode"`
	PaymentType     PaymentType     `db:"payment_type" json:"paymentType"`
	Status          string          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
}

// PayoutInfo describes a refund payout accepted by the gateway
type PayoutInfo struct {
	BankCode        string          `json:"bankCode"`
	ToAccountNumber string          `json:"toAccountNumber"`
	TransactionCode string          `json:"transactionCode"`
	AmountRefunded  decimal.Decimal `json:"amountRefunded"`
}

// AdminContact is returned by the user service for notification fan-out
type AdminContact struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
