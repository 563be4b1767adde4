// Package queue is the producer and consumer facade over the Redis job store.
// Jobs carry their own retry policy; the lifecycle code only ever enqueues,
// schedules or cancels.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-lifecycle/internal/models"
	"order-lifecycle/internal/util"

	"github.com/google/uuid"
)

// Backend stores jobs. Implemented by *redisclient.Client.
type Backend interface {
	AddJob(ctx context.Context, queue string, job *models.Job) error
	AddDelayedJob(ctx context.Context, queue string, job *models.Job, runAt time.Time) error
	CancelDelayedJob(ctx context.Context, queue, jobID string) (bool, error)
	PromoteDueJobs(ctx context.Context, queue string, now time.Time, limit int) (int64, error)
	NextJob(ctx context.Context, queue string, timeout time.Duration) (*models.Job, error)
	CompleteJob(ctx context.Context, queue string, job *models.Job) error
	RetryJob(ctx context.Context, queue string, job *models.Job, runAt time.Time) error
	FailJob(ctx context.Context, queue string, job *models.Job) error
}

type Queue struct {
	backend Backend
	name    string
	now     func() time.Time
}

// New creates a queue named name on backend
func New(backend Backend, name string) *Queue {
	return &Queue{
		backend: backend,
		name:    name,
		now:     time.Now,
	}
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Enqueue adds a job that is ready immediately and returns its id
func (q *Queue) Enqueue(ctx context.Context, jobName string, payload interface{}, policy models.RetryPolicy) (string, error) {
	job, err := q.newJob(uuid.New().String(), jobName, payload, policy)
	if err != nil {
		return "", err
	}

	if err := q.backend.AddJob(ctx, q.name, job); err != nil {
		return "", err
	}

	util.JobsEnqueuedTotal.WithLabelValues(jobName).Inc()
	return job.ID, nil
}

// Schedule adds a job with a caller-chosen id that becomes ready at runAt.
// Scheduling an existing id moves its run time.
func (q *Queue) Schedule(ctx context.Context, jobID, jobName string, payload interface{}, runAt time.Time, policy models.RetryPolicy) error {
	job, err := q.newJob(jobID, jobName, payload, policy)
	if err != nil {
		return err
	}

	if err := q.backend.AddDelayedJob(ctx, q.name, job, runAt); err != nil {
		return err
	}

	util.JobsEnqueuedTotal.WithLabelValues(jobName).Inc()
	return nil
}

// Cancel removes a scheduled job that has not started. It returns false when
// there was nothing to cancel.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	return q.backend.CancelDelayedJob(ctx, q.name, jobID)
}

// PromoteDue makes due scheduled jobs ready
func (q *Queue) PromoteDue(ctx context.Context, limit int) (int64, error) {
	return q.backend.PromoteDueJobs(ctx, q.name, q.now(), limit)
}

// Next waits up to timeout for a ready job
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	return q.backend.NextJob(ctx, q.name, timeout)
}

// Complete finalizes a successful job
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	return q.backend.CompleteJob(ctx, q.name, job)
}

// Failed records a failed run. The job is rescheduled with its backoff while
// attempts remain and parked otherwise. It reports whether a retry was
// scheduled.
func (q *Queue) Failed(ctx context.Context, job *models.Job, cause error) (bool, error) {
	job.AttemptsMade++
	job.FailedReason = cause.Error()

	if job.CanRetry() {
		runAt := q.now().Add(job.Opts.NextDelay(job.AttemptsMade))
		return true, q.backend.RetryJob(ctx, q.name, job, runAt)
	}
	return false, q.backend.FailJob(ctx, q.name, job)
}

func (q *Queue) newJob(jobID, jobName string, payload interface{}, policy models.RetryPolicy) (*models.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobName, err)
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	return &models.Job{
		ID:        jobID,
		Name:      jobName,
		Data:      data,
		Opts:      policy,
		CreatedAt: q.now(),
	}, nil
}
