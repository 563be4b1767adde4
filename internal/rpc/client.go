// Package rpc carries request/response calls between sibling services.
//
// A call is a JSON request pushed to the target service's request list and a
// JSON reply read back from a per-call reply key. Replies either hold data or a
// typed *apperror.Error raised by the remote handler.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-lifecycle/internal/apperror"
	"order-lifecycle/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Patterns served or consumed by this service
const (
	PatternGetOrderByID        = "get-order-by-id"
	PatternGetAllAdmins        = "get-all-admins"
	PatternScheduleOrderExpiry = "schedule-order-expiry"
)

// Transport delivers one request and returns the raw reply envelope.
type Transport interface {
	Send(ctx context.Context, target, pattern string, payload []byte) ([]byte, error)
}

// Options bounds a call: Timeout applies to every attempt, Retries is the
// number of extra attempts after the first.
type Options struct {
	Timeout time.Duration
	Retries int
}

type request struct {
	ID       string          `json:"id"`
	Pattern  string          `json:"pattern"`
	Data     json.RawMessage `json:"data"`
	ReplyTo  string          `json:"replyTo"`
	Deadline int64           `json:"deadline,omitempty"`
}

type reply struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *apperror.Error `json:"error,omitempty"`
}

type Client struct {
	transport  Transport
	opts       Options
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewClient creates a new RPC client with default call options
func NewClient(transport Transport, opts Options) *Client {
	return &Client{
		transport:  transport,
		opts:       opts,
		retryDelay: 200 * time.Millisecond,
		logger:     util.ComponentLogger("rpc"),
	}
}

// Call sends req to pattern on target and decodes the reply data into resp.
func (c *Client) Call(ctx context.Context, target, pattern string, req, resp interface{}) error {
	return c.CallWithOptions(ctx, target, pattern, req, resp, c.opts)
}

// CallWithOptions is Call with explicit timeout and retry settings.
//
// Transport failures are retried. A typed error from the remote side is
// returned at once: the same input would fail the same way again.
func (c *Client) CallWithOptions(ctx context.Context, target, pattern string, req, resp interface{}, opts Options) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return apperror.Internal(fmt.Errorf("failed to marshal rpc request: %w", err))
	}

	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	var raw []byte
	operation := func() error {
		attempt++
		var err error
		raw, err = c.send(ctx, target, pattern, payload, opts.Timeout)
		if _, ok := apperror.As(err); ok {
			return backoff.Permanent(err)
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		c.logger.Warn("RPC attempt failed",
			zap.String("target", target),
			zap.String("pattern", pattern),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retries+1),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(retries)), ctx)

	err = backoff.RetryNotify(operation, policy, onRetry)
	if err == nil {
		return c.decode(target, pattern, raw, resp)
	}
	if appErr, ok := apperror.As(err); ok {
		util.RPCCallsTotal.WithLabelValues(target, pattern, "app_error").Inc()
		return appErr
	}

	c.logger.Warn("RPC call gave up",
		zap.String("target", target),
		zap.String("pattern", pattern),
		zap.Int("attempts", attempt),
		zap.Error(err))
	util.RPCCallsTotal.WithLabelValues(target, pattern, "unavailable").Inc()
	return apperror.ServiceUnavailable(fmt.Sprintf("%s service unavailable", target), err)
}

func (c *Client) send(ctx context.Context, target, pattern string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.transport.Send(ctx, target, pattern, payload)
}

func (c *Client) decode(target, pattern string, raw []byte, resp interface{}) error {
	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		util.RPCCallsTotal.WithLabelValues(target, pattern, "bad_reply").Inc()
		return apperror.Internal(fmt.Errorf("failed to decode %s reply: %w", pattern, err))
	}

	if r.Error != nil {
		util.RPCCallsTotal.WithLabelValues(target, pattern, "app_error").Inc()
		return r.Error
	}

	if resp != nil && len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, resp); err != nil {
			util.RPCCallsTotal.WithLabelValues(target, pattern, "bad_reply").Inc()
			return apperror.Internal(fmt.Errorf("failed to decode %s data: %w", pattern, err))
		}
	}

	util.RPCCallsTotal.WithLabelValues(target, pattern, "ok").Inc()
	return nil
}
