package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"order-lifecycle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	ready   []*models.Job
	delayed map[string]time.Time
	jobs    map[string]*models.Job
	failed  []*models.Job
	done    []*models.Job
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{delayed: map[string]time.Time{}, jobs: map[string]*models.Job{}}
}

func (m *memoryBackend) AddJob(_ context.Context, _ string, job *models.Job) error {
	m.jobs[job.ID] = job
	m.ready = append(m.ready, job)
	return nil
}

func (m *memoryBackend) AddDelayedJob(_ context.Context, _ string, job *models.Job, runAt time.Time) error {
	m.jobs[job.ID] = job
	m.delayed[job.ID] = runAt
	return nil
}

func (m *memoryBackend) CancelDelayedJob(_ context.Context, _ string, jobID string) (bool, error) {
	if _, ok := m.delayed[jobID]; !ok {
		return false, nil
	}
	delete(m.delayed, jobID)
	delete(m.jobs, jobID)
	return true, nil
}

func (m *memoryBackend) PromoteDueJobs(_ context.Context, _ string, now time.Time, _ int) (int64, error) {
	var moved int64
	for id, runAt := range m.delayed {
		if !runAt.After(now) {
			m.ready = append(m.ready, m.jobs[id])
			delete(m.delayed, id)
			moved++
		}
	}
	return moved, nil
}

func (m *memoryBackend) NextJob(context.Context, string, time.Duration) (*models.Job, error) {
	if len(m.ready) == 0 {
		return nil, nil
	}
	job := m.ready[0]
	m.ready = m.ready[1:]
	return job, nil
}

func (m *memoryBackend) CompleteJob(_ context.Context, _ string, job *models.Job) error {
	m.done = append(m.done, job)
	return nil
}

func (m *memoryBackend) RetryJob(ctx context.Context, queue string, job *models.Job, runAt time.Time) error {
	return m.AddDelayedJob(ctx, queue, job, runAt)
}

func (m *memoryBackend) FailJob(_ context.Context, _ string, job *models.Job) error {
	m.failed = append(m.failed, job)
	return nil
}

func fixedClock(q *Queue, now time.Time) {
	q.now = func() time.Time { return now }
}

func TestEnqueueStoresPayloadAndPolicy(t *testing.T) {
	backend := newMemoryBackend()
	q := New(backend, "notifications")
	policy := models.DefaultRetryPolicy(3, time.Minute)

	id, err := q.Enqueue(context.Background(), models.JobSendMail, models.MailJob{To: "a@b.c", Subject: "New order"}, policy)
	require.NoError(t, err)

	job := backend.jobs[id]
	require.NotNil(t, job)
	assert.Equal(t, models.JobSendMail, job.Name)
	assert.Equal(t, policy, job.Opts)

	var payload models.MailJob
	require.NoError(t, json.Unmarshal(job.Data, &payload))
	assert.Equal(t, "a@b.c", payload.To)
}

func TestScheduleThenCancel(t *testing.T) {
	backend := newMemoryBackend()
	q := New(backend, "notifications")
	ctx := context.Background()
	jobID := models.ExpireOrderJobID(7)

	err := q.Schedule(ctx, jobID, models.JobExpireOrder, models.ExpireOrderJob{OrderID: 7},
		time.Now().Add(time.Hour), models.RetryPolicy{Attempts: 1})
	require.NoError(t, err)

	cancelled, err := q.Cancel(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = q.Cancel(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestFailedRetriesWithExponentialBackoffThenParks(t *testing.T) {
	backend := newMemoryBackend()
	q := New(backend, "notifications")
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	fixedClock(q, now)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobSendChat, models.ChatJob{Text: "hi"}, models.DefaultRetryPolicy(3, time.Minute))
	require.NoError(t, err)
	job, err := q.Next(ctx, time.Second)
	require.NoError(t, err)

	retried, err := q.Failed(ctx, job, errors.New("smtp down"))
	require.NoError(t, err)
	assert.True(t, retried)
	assert.Equal(t, now.Add(time.Minute), backend.delayed[job.ID])

	retried, err = q.Failed(ctx, job, errors.New("smtp down"))
	require.NoError(t, err)
	assert.True(t, retried)
	assert.Equal(t, now.Add(2*time.Minute), backend.delayed[job.ID])

	retried, err = q.Failed(ctx, job, errors.New("smtp down"))
	require.NoError(t, err)
	assert.False(t, retried)
	require.Len(t, backend.failed, 1)
	assert.Equal(t, 3, backend.failed[0].AttemptsMade)
	assert.Equal(t, "smtp down", backend.failed[0].FailedReason)
}

func TestPromoteDueUsesQueueClock(t *testing.T) {
	backend := newMemoryBackend()
	q := New(backend, "notifications")
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	fixedClock(q, now)
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, "due", models.JobSendChat, models.ChatJob{}, now.Add(-time.Second), models.RetryPolicy{}))
	require.NoError(t, q.Schedule(ctx, "later", models.JobSendChat, models.ChatJob{}, now.Add(time.Hour), models.RetryPolicy{}))

	moved, err := q.PromoteDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	job, err := q.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "due", job.ID)
	assert.Equal(t, 1, job.Opts.Attempts)
}
