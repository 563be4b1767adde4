package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Job names
const (
	JobSendMail     = "send-mail"
	JobSendChat     = "send-chat"
	JobExpireOrder  = "expire-unpaid-order"
	JobNotifyAdmins = "notify-admins"
	BackoffExponent = "exponential"
	BackoffFixed    = "fixed"
)

// Backoff mirrors the queue's backoff option; Delay is in milliseconds.
type Backoff struct {
	Type  string `json:"type"`
	Delay int64  `json:"delay"`
}

// RetryPolicy controls how a failed job is retried and retained.
type RetryPolicy struct {
	Attempts         int     `json:"attempts"`
	Backoff          Backoff `json:"backoff"`
	RemoveOnComplete bool    `json:"removeOnComplete"`
	RemoveOnFail     bool    `json:"removeOnFail"`
}

// DefaultRetryPolicy is used for every notification side effect.
func DefaultRetryPolicy(attempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		Attempts:         attempts,
		Backoff:          Backoff{Type: BackoffExponent, Delay: delay.Milliseconds()},
		RemoveOnComplete: true,
		RemoveOnFail:     false,
	}
}

// MaxRetryDelay caps the exponential backoff between job attempts
const MaxRetryDelay = 24 * time.Hour

// NextDelay returns how long to wait before the next run after attemptsMade
// failed runs: the base delay, doubled per earlier failure for exponential
// policies.
func (p RetryPolicy) NextDelay(attemptsMade int) time.Duration {
	base := time.Duration(p.Backoff.Delay) * time.Millisecond
	if attemptsMade < 1 || p.Backoff.Type != BackoffExponent {
		return base
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = MaxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	delay := base
	for i := 0; i < attemptsMade; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Job is the unit stored in the queue
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	Opts         RetryPolicy     `json:"opts"`
	AttemptsMade int             `json:"attemptsMade"`
	FailedReason string          `json:"failedReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// CanRetry reports whether another attempt is allowed
func (j *Job) CanRetry() bool {
	return j.AttemptsMade < j.Opts.Attempts
}

// MailJob is the payload of a send-mail job
type MailJob struct {
	To       string                 `json:"to"`
	Subject  string                 `json:"subject"`
	Template string                 `json:"template"`
	Context  map[string]interface{} `json:"context"`
}

// NotifyAdminsJob is the payload of a notify-admins job: one mail per admin,
// rendered from Template with Context plus the admin's name.
type NotifyAdminsJob struct {
	OrderID  int64                  `json:"orderId"`
	Subject  string                 `json:"subject"`
	Template string                 `json:"template"`
	Context  map[string]interface{} `json:"context"`
}

// ChatJob is the payload of a send-chat job
type ChatJob struct {
	Text string `json:"text"`
}

// ExpireOrderJob is the payload of an expire-unpaid-order job
type ExpireOrderJob struct {
	OrderID int64 `json:"orderId"`
}

// ExpireOrderJobID is the deterministic id of an order's expiry job so it can
// be cancelled once the order is paid.
func ExpireOrderJobID(orderID int64) string {
	return fmt.Sprintf("expire-order-%d", orderID)
}
