package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-lifecycle/internal/models"

	"github.com/go-redis/redis/v8"
)

// Jobs live in a hash keyed by id; the wait list, delayed zset and failed list
// only hold ids.
func jobsKey(queue string) string    { return fmt.Sprintf("queue:%s:jobs", queue) }
func waitKey(queue string) string    { return fmt.Sprintf("queue:%s:wait", queue) }
func delayedKey(queue string) string { return fmt.Sprintf("queue:%s:delayed", queue) }
func failedKey(queue string) string  { return fmt.Sprintf("queue:%s:failed", queue) }

// AddJob stores job and makes it immediately ready
func (c *Client) AddJob(ctx context.Context, queue string, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobsKey(queue), job.ID, data)
		pipe.RPush(ctx, waitKey(queue), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add job %s: %w", job.ID, err)
	}
	return nil
}

// AddDelayedJob stores job to become ready at runAt. Re-adding an id moves its
// run time.
func (c *Client) AddDelayedJob(ctx context.Context, queue string, job *models.Job, runAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobsKey(queue), job.ID, data)
		pipe.ZAdd(ctx, delayedKey(queue), &redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add delayed job %s: %w", job.ID, err)
	}
	return nil
}

// CancelDelayedJob removes a job that has not become ready yet
func (c *Client) CancelDelayedJob(ctx context.Context, queue, jobID string) (bool, error) {
	removed, err := c.cancelScript.Run(ctx, c.rdb, []string{delayedKey(queue), jobsKey(queue)}, jobID).Int64()
	if err != nil {
		return false, fmt.Errorf("cancel delayed script failed: %w", err)
	}
	return removed == 1, nil
}

// PromoteDueJobs moves up to limit delayed jobs whose run time has passed onto
// the wait list
func (c *Client) PromoteDueJobs(ctx context.Context, queue string, now time.Time, limit int) (int64, error) {
	moved, err := c.promoteScript.Run(ctx, c.rdb,
		[]string{delayedKey(queue), waitKey(queue)}, now.UnixMilli(), limit).Int64()
	if err != nil {
		return 0, fmt.Errorf("promote delayed script failed: %w", err)
	}
	return moved, nil
}

// NextJob blocks up to timeout for a ready job. It returns nil, nil when
// nothing became ready.
func (c *Client) NextJob(ctx context.Context, queue string, timeout time.Duration) (*models.Job, error) {
	res, err := c.rdb.BLPop(ctx, timeout, waitKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	jobID := res[1]
	raw, err := c.rdb.HGet(ctx, jobsKey(queue), jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		// cancelled between promotion and pop
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// CompleteJob finalizes a successful job
func (c *Client) CompleteJob(ctx context.Context, queue string, job *models.Job) error {
	if job.Opts.RemoveOnComplete {
		return c.rdb.HDel(ctx, jobsKey(queue), job.ID).Err()
	}
	return c.saveJob(ctx, queue, job)
}

// RetryJob stores the job's updated attempt count and delays it until runAt
func (c *Client) RetryJob(ctx context.Context, queue string, job *models.Job, runAt time.Time) error {
	return c.AddDelayedJob(ctx, queue, job, runAt)
}

// FailJob parks a job that ran out of attempts
func (c *Client) FailJob(ctx context.Context, queue string, job *models.Job) error {
	if job.Opts.RemoveOnFail {
		return c.rdb.HDel(ctx, jobsKey(queue), job.ID).Err()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobsKey(queue), job.ID, data)
		pipe.RPush(ctx, failedKey(queue), job.ID)
		return nil
	})
	return err
}

func (c *Client) saveJob(ctx context.Context, queue string, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return c.rdb.HSet(ctx, jobsKey(queue), job.ID, data).Err()
}
