package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"order-lifecycle/internal/apperror"
	"order-lifecycle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	calls     int
	failFirst int
	reply     []byte
	deadlines []bool
	lastBody  []byte
}

func (s *scriptedTransport) Send(ctx context.Context, _, _ string, payload []byte) ([]byte, error) {
	s.calls++
	_, hasDeadline := ctx.Deadline()
	s.deadlines = append(s.deadlines, hasDeadline)
	s.lastBody = payload
	if s.calls <= s.failFirst {
		return nil, context.DeadlineExceeded
	}
	return s.reply, nil
}

func newTestClient(tr Transport, opts Options) *Client {
	c := NewClient(tr, opts)
	c.retryDelay = time.Millisecond
	return c
}

func mustReply(t *testing.T, r reply) []byte {
	t.Helper()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	return raw
}

func TestCallDecodesData(t *testing.T) {
	tr := &scriptedTransport{reply: mustReply(t, reply{Data: json.RawMessage(`[{"id":"a1","email":"ops@shop.test","name":"Ops"}]`)})}
	c := newTestClient(tr, Options{Timeout: time.Second, Retries: 2})

	var admins []models.AdminContact
	err := c.Call(context.Background(), "user", PatternGetAllAdmins, map[string]string{}, &admins)
	require.NoError(t, err)

	require.Len(t, admins, 1)
	assert.Equal(t, "ops@shop.test", admins[0].Email)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, []bool{true}, tr.deadlines)
}

func TestCallRetriesTransportFailures(t *testing.T) {
	tr := &scriptedTransport{failFirst: 2, reply: mustReply(t, reply{Data: json.RawMessage(`{"ok":true}`)})}
	c := newTestClient(tr, Options{Timeout: 50 * time.Millisecond, Retries: 2})

	var out map[string]bool
	err := c.Call(context.Background(), "order", PatternGetOrderByID, map[string]int64{"id": 1}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.calls)
	assert.True(t, out["ok"])
}

func TestCallExhaustedIsServiceUnavailable(t *testing.T) {
	tr := &scriptedTransport{failFirst: 10}
	c := newTestClient(tr, Options{Timeout: 10 * time.Millisecond, Retries: 1})

	err := c.Call(context.Background(), "user", PatternGetAllAdmins, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 2, tr.calls)
	assert.True(t, apperror.HasCode(err, apperror.CodeServiceUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCallRemoteErrorIsNotRetried(t *testing.T) {
	remote := apperror.NotFound(apperror.KeyOrderNotFound, "order 9 not found")
	tr := &scriptedTransport{reply: mustReply(t, reply{Error: remote})}
	c := newTestClient(tr, Options{Timeout: time.Second, Retries: 3})

	err := c.Call(context.Background(), "order", PatternGetOrderByID, map[string]int64{"id": 9}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, tr.calls)

	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)
	assert.Equal(t, apperror.KeyOrderNotFound, appErr.MessageKey)
}

type typedFailureTransport struct {
	calls int
	err   error
}

func (f *typedFailureTransport) Send(context.Context, string, string, []byte) ([]byte, error) {
	f.calls++
	return nil, f.err
}

func TestCallTypedTransportErrorIsPermanent(t *testing.T) {
	tr := &typedFailureTransport{err: apperror.BadRequest(apperror.KeyInvalidInput, "bad request")}
	c := newTestClient(tr, Options{Timeout: time.Second, Retries: 3})

	err := c.Call(context.Background(), "user", PatternGetAllAdmins, nil, nil)
	assert.Equal(t, 1, tr.calls)
	assert.True(t, apperror.HasCode(err, apperror.CodeBadRequest))
}

func TestCallStopsRetryingWhenContextEnds(t *testing.T) {
	tr := &typedFailureTransport{err: errors.New("connection refused")}
	c := NewClient(tr, Options{Timeout: time.Second, Retries: 50})
	c.retryDelay = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()

	err := c.Call(ctx, "user", PatternGetAllAdmins, nil, nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeServiceUnavailable))
	assert.Less(t, tr.calls, 10)
	assert.GreaterOrEqual(t, tr.calls, 1)
}

func TestCallMalformedReplyIsInternal(t *testing.T) {
	tr := &scriptedTransport{reply: []byte("not json")}
	c := newTestClient(tr, Options{Timeout: time.Second})

	err := c.Call(context.Background(), "order", PatternGetOrderByID, nil, nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeInternalServerError))
}

func TestServerHandleReply(t *testing.T) {
	s := NewServer(nil, "order")
	s.Handle(PatternGetOrderByID, func(_ context.Context, data json.RawMessage) (interface{}, error) {
		var req struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		if req.ID != 1 {
			return nil, apperror.NotFound(apperror.KeyOrderNotFound, "order not found")
		}
		return map[string]int64{"id": req.ID}, nil
	})
	s.Handle("boom", func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, errors.New("db down")
	})
	ctx := context.Background()

	ok := s.handle(ctx, request{ID: "r1", Pattern: PatternGetOrderByID, Data: json.RawMessage(`{"id":1}`)})
	assert.Nil(t, ok.Error)
	assert.JSONEq(t, `{"id":1}`, string(ok.Data))
	assert.Equal(t, "r1", ok.ID)

	missing := s.handle(ctx, request{ID: "r2", Pattern: PatternGetOrderByID, Data: json.RawMessage(`{"id":2}`)})
	require.NotNil(t, missing.Error)
	assert.Equal(t, apperror.CodeNotFound, missing.Error.Code)

	internal := s.handle(ctx, request{ID: "r3", Pattern: "boom"})
	require.NotNil(t, internal.Error)
	assert.Equal(t, apperror.CodeInternalServerError, internal.Error.Code)

	unknown := s.handle(ctx, request{ID: "r4", Pattern: "nope"})
	require.NotNil(t, unknown.Error)
	assert.Equal(t, apperror.CodeBadRequest, unknown.Error.Code)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "rpc:user:requests", requestKey("user"))
	assert.Equal(t, "rpc:reply:abc", replyKey("abc"))
}
