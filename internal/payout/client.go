// Package payout sends refund transfers through the payment gateway.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"order-lifecycle/config"
	"order-lifecycle/internal/models"
	"order-lifecycle/internal/signature"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const payoutPath = "/v1/payouts"

// ErrRejected marks a payout the gateway refused outright. Sending the same
// request again will not succeed.
var ErrRejected = errors.New("payout rejected by gateway")

// PayoutRequest is the transfer instruction sent to the gateway
type PayoutRequest struct {
	ReferenceID     string          `json:"referenceId"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	ToBin           string          `json:"toBin"`
	ToAccountNumber string          `json:"toAccountNumber"`
}

// PayoutResult is the gateway's record of an accepted transfer
type PayoutResult struct {
	ID              string          `json:"id"`
	ReferenceID     string          `json:"referenceId"`
	Amount          decimal.Decimal `json:"amount"`
	ToBin           string          `json:"toBin"`
	ToAccountNumber string          `json:"toAccountNumber"`
	ApprovalState   string          `json:"approvalState"`
}

type gatewayResponse struct {
	Code string        `json:"code"`
	Desc string        `json:"desc"`
	Data *PayoutResult `json:"data"`
}

// Client talks to the gateway's payout API
type Client struct {
	clientID string
	apiKey   string
	baseURL  string
	signer   *signature.Verifier
	client   *http.Client
}

// NewClient creates a new gateway payout client
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		clientID: cfg.ClientID,
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		signer:   signature.NewVerifier(cfg.ChecksumKey),
		client: &http.Client{
			Timeout:   cfg.PayoutTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreatePayout asks the gateway to transfer req.Amount to the destination
// account. Requests with the same idempotency key are executed once.
func (c *Client) CreatePayout(ctx context.Context, idempotencyKey string, req PayoutRequest) (*PayoutResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout request: %w", err)
	}

	sig, err := c.sign(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+payoutPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", c.clientID)
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("x-idempotency-key", idempotencyKey)
	httpReq.Header.Set("x-signature", sig)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payout request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payout response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		err := fmt.Errorf("payout gateway returned status %d after %s: %s",
			resp.StatusCode, time.Since(start).Round(time.Millisecond), string(raw))
		if definitiveStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return nil, err
	}

	var out gatewayResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode payout response: %w", err)
	}
	if out.Code != models.GatewayCodeSuccess || out.Data == nil {
		return nil, fmt.Errorf("%w: code=%s desc=%s", ErrRejected, out.Code, out.Desc)
	}

	return out.Data, nil
}

// definitiveStatus reports whether a non-2xx status means the request itself
// was refused. Timeouts and rate limits are worth another try.
func definitiveStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

func (c *Client) sign(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return "", fmt.Errorf("failed to sign payout request: %w", err)
	}
	return c.signer.SignFields(fields), nil
}
