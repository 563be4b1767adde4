package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"order-lifecycle/internal/broker"
	"order-lifecycle/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	ready     []*models.Job
	promoted  int
	completed []string
	failed    []string
	retry     bool
	nextErr   error
}

func (q *fakeQueue) Name() string { return "notifications" }

func (q *fakeQueue) PromoteDue(context.Context, int) (int64, error) {
	q.promoted++
	return 0, nil
}

func (q *fakeQueue) Next(context.Context, time.Duration) (*models.Job, error) {
	if q.nextErr != nil {
		return nil, q.nextErr
	}
	if len(q.ready) == 0 {
		return nil, nil
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	return job, nil
}

func (q *fakeQueue) Complete(_ context.Context, job *models.Job) error {
	q.completed = append(q.completed, job.ID)
	return nil
}

func (q *fakeQueue) Failed(_ context.Context, job *models.Job, cause error) (bool, error) {
	job.AttemptsMade++
	job.FailedReason = cause.Error()
	q.failed = append(q.failed, job.ID)
	return q.retry, nil
}

func newJob(t *testing.T, id, name string, payload interface{}) *models.Job {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.Job{ID: id, Name: name, Data: data, Opts: models.RetryPolicy{Attempts: 3}}
}

type recordingMailer struct {
	sent []models.MailJob
	err  error
}

func (m *recordingMailer) Send(_ context.Context, job models.MailJob) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, job)
	return nil
}

type recordingChat struct {
	texts []string
}

func (c *recordingChat) Send(_ context.Context, text string) error {
	c.texts = append(c.texts, text)
	return nil
}

type recordingExpirer struct {
	ids []int64
}

func (e *recordingExpirer) ExpireUnpaidOrder(_ context.Context, orderID int64) error {
	e.ids = append(e.ids, orderID)
	return nil
}

func TestJobWorkerDispatchesByName(t *testing.T) {
	q := &fakeQueue{ready: []*models.Job{
		newJob(t, "1", models.JobSendMail, models.MailJob{To: "a@shop.test", Subject: "hi"}),
		newJob(t, "2", models.JobSendChat, models.ChatJob{Text: "paid"}),
		newJob(t, "3", models.JobExpireOrder, models.ExpireOrderJob{OrderID: 42}),
	}}
	mailer := &recordingMailer{}
	chat := &recordingChat{}
	expirer := &recordingExpirer{}

	w := NewJobWorker(q, time.Millisecond)
	w.Register(models.JobSendMail, MailHandler(mailer))
	w.Register(models.JobSendChat, ChatHandler(chat))
	w.Register(models.JobExpireOrder, ExpireOrderHandler(expirer))

	for i := 0; i < 3; i++ {
		ran, err := w.processNext(context.Background())
		require.NoError(t, err)
		assert.True(t, ran)
	}

	ran, err := w.processNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	assert.Equal(t, []string{"1", "2", "3"}, q.completed)
	assert.Empty(t, q.failed)
	assert.Equal(t, 4, q.promoted)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "a@shop.test", mailer.sent[0].To)
	assert.Equal(t, []string{"paid"}, chat.texts)
	assert.Equal(t, []int64{42}, expirer.ids)
}

func TestJobWorkerRecordsFailures(t *testing.T) {
	failing := newJob(t, "1", models.JobSendMail, models.MailJob{To: "a@shop.test"})
	unknown := newJob(t, "2", "resize-image", struct{}{})
	garbage := &models.Job{ID: "3", Name: models.JobSendChat, Data: json.RawMessage(`"nope"`)}
	q := &fakeQueue{ready: []*models.Job{failing, unknown, garbage}, retry: true}

	w := NewJobWorker(q, time.Millisecond)
	w.Register(models.JobSendMail, MailHandler(&recordingMailer{err: errors.New("smtp down")}))
	w.Register(models.JobSendChat, ChatHandler(&recordingChat{}))

	for i := 0; i < 3; i++ {
		_, err := w.processNext(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"1", "2", "3"}, q.failed)
	assert.Empty(t, q.completed)
	assert.Equal(t, "smtp down", failing.FailedReason)
	assert.Equal(t, 1, failing.AttemptsMade)
	assert.Contains(t, unknown.FailedReason, "no handler")
	assert.Contains(t, garbage.FailedReason, "malformed job payload")
}

type flakyNotifier struct {
	failures int
	jobs     []models.NotifyAdminsJob
}

func (n *flakyNotifier) NotifyAdmins(_ context.Context, job models.NotifyAdminsJob) error {
	n.jobs = append(n.jobs, job)
	if len(n.jobs) <= n.failures {
		return errors.New("failed to load admins: user service unavailable")
	}
	return nil
}

func TestNotifyAdminsJobRetriedAfterLookupFailure(t *testing.T) {
	job := newJob(t, "n1", models.JobNotifyAdmins, models.NotifyAdminsJob{OrderID: 8, Template: "order-created"})
	q := &fakeQueue{ready: []*models.Job{job}, retry: true}
	notifier := &flakyNotifier{failures: 1}

	w := NewJobWorker(q, time.Millisecond)
	w.Register(models.JobNotifyAdmins, NotifyAdminsHandler(notifier))

	ran, err := w.processNext(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	assert.Equal(t, []string{"n1"}, q.failed)
	assert.Empty(t, q.completed)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Contains(t, job.FailedReason, "user service unavailable")

	// the queue hands the job back once its backoff has elapsed
	q.ready = append(q.ready, job)
	ran, err = w.processNext(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	assert.Equal(t, []string{"n1"}, q.completed)
	require.Len(t, notifier.jobs, 2)
	assert.Equal(t, int64(8), notifier.jobs[1].OrderID)
}

func TestNotifyAdminsJobParkedWhenAttemptsRunOut(t *testing.T) {
	job := newJob(t, "n2", models.JobNotifyAdmins, models.NotifyAdminsJob{OrderID: 9})
	q := &fakeQueue{ready: []*models.Job{job}}

	w := NewJobWorker(q, time.Millisecond)
	w.Register(models.JobNotifyAdmins, NotifyAdminsHandler(&flakyNotifier{failures: 5}))

	_, err := w.processNext(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"n2"}, q.failed)
	assert.Empty(t, q.completed)
}

func TestJobWorkerQueueError(t *testing.T) {
	q := &fakeQueue{nextErr: errors.New("redis down")}
	w := NewJobWorker(q, time.Millisecond)

	ran, err := w.processNext(context.Background())
	assert.False(t, ran)
	assert.ErrorContains(t, err, "redis down")
}

func TestJobWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewJobWorker(&fakeQueue{}, time.Millisecond)
	assert.ErrorIs(t, w.Start(ctx), context.Canceled)
}

type fakeConsumer struct {
	messages []kafka.Message
	closed   bool
}

func (c *fakeConsumer) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range c.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeConsumer) Close() error {
	c.closed = true
	return nil
}

type recordingEvents struct {
	created   []int64
	cancelled []int64
}

func (r *recordingEvents) HandleOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	r.created = append(r.created, e.OrderID)
	return nil
}

func (r *recordingEvents) HandleOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	r.cancelled = append(r.cancelled, e.OrderID)
	return nil
}

func TestNotificationWorkerRoutesEvents(t *testing.T) {
	order := &models.Order{ID: 8, UserID: 2, PaymentMethod: models.PaymentMethodBankTransfer}
	created, err := json.Marshal(models.NewOrderCreatedEvent(order, &models.Payment{TransactionCode: "FT8"}))
	require.NoError(t, err)
	cancelled, err := json.Marshal(models.NewOrderCancelledEvent(order, 1, nil))
	require.NoError(t, err)

	consumer := &fakeConsumer{messages: []kafka.Message{{Value: created}, {Value: cancelled}}}
	events := &recordingEvents{}
	w := NewNotificationWorker(consumer, events)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())

	assert.Equal(t, []int64{8}, events.created)
	assert.Equal(t, []int64{8}, events.cancelled)
	assert.True(t, consumer.closed)
}
