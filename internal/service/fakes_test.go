package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/store"

	"github.com/shopspring/decimal"
)

// fakeRepo is an in-memory OrderRepository. Transactions are serialized and
// rolled back on error.
type fakeRepo struct {
	mu       sync.Mutex
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	payments []models.Payment
	stock    map[int64]int

	reads   int
	writes  int
	txCount int
	failTx  error
	nextID  int64
	clock   time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders: map[int64]*models.Order{},
		items:  map[int64][]models.OrderItem{},
		stock:  map[int64]int{},
		clock:  time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
	}
}

func (r *fakeRepo) addOrder(o models.Order, items ...models.OrderItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = &o
	for i := range items {
		items[i].OrderID = o.ID
	}
	r.items[o.ID] = items
}

func (r *fakeRepo) order(id int64) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.orders[id]
}

func (r *fakeRepo) paymentsOf(orderID int64, paymentType models.PaymentType) []models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if p.OrderID == orderID && p.PaymentType == paymentType {
			out = append(out, p)
		}
	}
	return out
}

func (r *fakeRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *fakeRepo) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	o, ok := r.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	return append([]models.OrderItem(nil), r.items[orderID]...), nil
}

func (r *fakeRepo) GetPaymentByTransactionCode(_ context.Context, orderID int64, code string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	for _, p := range r.payments {
		if p.OrderID == orderID && p.TransactionCode == code && p.PaymentType == models.PaymentTypePayin {
			cp := p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) WithTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCount++
	if r.failTx != nil {
		return r.failTx
	}

	orders := make(map[int64]models.Order, len(r.orders))
	for id, o := range r.orders {
		orders[id] = *o
	}
	stock := make(map[int64]int, len(r.stock))
	for id, q := range r.stock {
		stock[id] = q
	}
	payments := len(r.payments)
	writes := r.writes

	if err := fn(&fakeTx{repo: r}); err != nil {
		for id, o := range orders {
			o := o
			r.orders[id] = &o
		}
		r.stock = stock
		r.payments = r.payments[:payments]
		r.writes = writes
		return err
	}
	return nil
}

type fakeTx struct {
	repo *fakeRepo
}

func (t *fakeTx) GetOrderForUpdate(_ context.Context, id int64) (*models.Order, error) {
	o, ok := t.repo.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (t *fakeTx) MarkOrderPaid(_ context.Context, orderID int64) error {
	o, ok := t.repo.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.PaymentStatus = models.PaymentStatusPaid
	if o.Status == models.OrderStatusPending {
		o.Status = models.OrderStatusPaid
	}
	t.repo.writes++
	return nil
}

func (t *fakeTx) CancelOrder(_ context.Context, orderID int64, paymentStatus models.PaymentStatus) error {
	o, ok := t.repo.orders[orderID]
	if !ok || o.Status == models.OrderStatusCancelled {
		return store.ErrAlreadyCancelled
	}
	o.Status = models.OrderStatusCancelled
	o.PaymentStatus = paymentStatus
	t.repo.writes++
	return nil
}

func (t *fakeTx) CreatePayment(_ context.Context, payment *models.Payment) error {
	if payment.PaymentType == models.PaymentTypePayin {
		for _, p := range t.repo.payments {
			if p.OrderID == payment.OrderID && p.TransactionCode == payment.TransactionCode && p.PaymentType == models.PaymentTypePayin {
				return fmt.Errorf("payment %s: %w", payment.TransactionCode, store.ErrDuplicate)
			}
		}
	}
	t.repo.nextID++
	payment.ID = t.repo.nextID
	payment.CreatedAt = t.repo.clock
	t.repo.payments = append(t.repo.payments, *payment)
	t.repo.writes++
	return nil
}

func (t *fakeTx) RestockItems(_ context.Context, items []models.OrderItem) error {
	for _, item := range items {
		t.repo.stock[item.ProductVariantID] += item.Quantity
	}
	t.repo.writes++
	return nil
}

type fakeVerifier struct {
	valid bool
	calls int
}

func (f *fakeVerifier) Verify(*models.WebhookPayload, string) bool {
	f.calls++
	return f.valid
}

type enqueuedJob struct {
	Name    string
	Payload interface{}
	Policy  models.RetryPolicy
}

type scheduledJob struct {
	ID      string
	Name    string
	Payload interface{}
	RunAt   time.Time
	Policy  models.RetryPolicy
}

type fakeScheduler struct {
	enqueued  []enqueuedJob
	scheduled []scheduledJob
	cancelled []string
	err       error
}

func (f *fakeScheduler) Enqueue(_ context.Context, jobName string, payload interface{}, policy models.RetryPolicy) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, enqueuedJob{Name: jobName, Payload: payload, Policy: policy})
	return fmt.Sprintf("job-%d", len(f.enqueued)), nil
}

func (f *fakeScheduler) Schedule(_ context.Context, jobID, jobName string, payload interface{}, runAt time.Time, policy models.RetryPolicy) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, scheduledJob{ID: jobID, Name: jobName, Payload: payload, RunAt: runAt, Policy: policy})
	return nil
}

func (f *fakeScheduler) Cancel(_ context.Context, jobID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.cancelled = append(f.cancelled, jobID)
	return true, nil
}

func (f *fakeScheduler) enqueuedNamed(name string) []enqueuedJob {
	var out []enqueuedJob
	for _, j := range f.enqueued {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

type fakePublisher struct {
	created   []*models.OrderCreatedEvent
	cancelled []*models.OrderCancelledEvent
	err       error
}

func (f *fakePublisher) PublishOrderCreated(_ context.Context, event *models.OrderCreatedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, event)
	return nil
}

func (f *fakePublisher) PublishOrderCancelled(_ context.Context, event *models.OrderCancelledEvent) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, event)
	return nil
}

type payoutCall struct {
	OrderID int64
	Items   []models.OrderItem
}

type fakePayouts struct {
	calls  []payoutCall
	info   *models.PayoutInfo
	err    error
	during func()
}

func (f *fakePayouts) CreatePayout(_ context.Context, orderID int64, items []models.OrderItem) (*models.PayoutInfo, error) {
	f.calls = append(f.calls, payoutCall{OrderID: orderID, Items: items})
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.info != nil {
		return f.info, nil
	}
	amount := decimal.Zero
	for _, item := range items {
		amount = amount.Add(item.Subtotal())
	}
	return &models.PayoutInfo{
		BankCode:        "VCB",
		ToAccountNumber: "987",
		TransactionCode: fmt.Sprintf("po-%d", orderID),
		AmountRefunded:  amount,
	}, nil
}

type fakeStockCache struct {
	restored map[int64]int
	err      error
}

func (f *fakeStockCache) RestoreStock(_ context.Context, variantID int64, quantity int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.restored == nil {
		f.restored = map[int64]int{}
	}
	f.restored[variantID] += quantity
	return true, nil
}

type fakeRPC struct {
	calls []string
	reply interface{}
	err   error
}

func (f *fakeRPC) Call(_ context.Context, target, pattern string, _, resp interface{}) error {
	f.calls = append(f.calls, target+"."+pattern)
	if f.err != nil {
		return f.err
	}
	if admins, ok := resp.(*[]models.AdminContact); ok {
		*admins = f.reply.([]models.AdminContact)
	}
	return nil
}

type fakeDedupe struct {
	seen    map[string]bool
	cleared []string
	err     error
}

func (f *fakeDedupe) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeDedupe) ClearProcessed(_ context.Context, key string) error {
	delete(f.seen, key)
	f.cleared = append(f.cleared, key)
	return nil
}

func pendingOrder(id int64, method models.PaymentMethod) models.Order {
	return models.Order{
		ID:            id,
		UserID:        55,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		PaymentMethod: method,
		TotalPrice:    decimal.NewFromInt(100000),
	}
}

func twoItems() []models.OrderItem {
	return []models.OrderItem{
		{ID: 1, ProductVariantID: 10, Quantity: 2, UnitPrice: decimal.NewFromInt(30000), ProductName: "Tee", ProductSize: "M"},
		{ID: 2, ProductVariantID: 11, Quantity: 1, UnitPrice: decimal.NewFromInt(40000), ProductName: "Cap", ProductSize: "L"},
	}
}
