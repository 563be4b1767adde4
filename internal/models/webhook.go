package models

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// GatewayCodeSuccess is the gateway result code for a settled transfer
const GatewayCodeSuccess = "00"

// WebhookPayload is the callback body posted by the payment gateway
type WebhookPayload struct {
	Code      string      `json:"code"`
	Desc      string      `json:"desc"`
	Success   bool        `json:"success"`
	Signature string      `json:"signature"`
	Data      WebhookData `json:"data"`
}

// WebhookData is the signed part of a webhook payload
type WebhookData struct {
	OrderCode              int64           `json:"orderCode"`
	Amount                 decimal.Decimal `json:"amount"`
	Description            string          `json:"description"`
	AccountNumber          string          `json:"accountNumber"`
	Reference              string          `json:"reference"`
	TransactionDateTime    string          `json:"transactionDateTime"`
	Currency               string          `json:"currency"`
	PaymentLinkID          string          `json:"paymentLinkId"`
	Code                   string          `json:"code"`
	Desc                   string          `json:"desc"`
	CounterAccountBankID   string          `json:"counterAccountBankId"`
	CounterAccountBankName string          `json:"counterAccountBankName"`
	CounterAccountName     string          `json:"counterAccountName"`
	CounterAccountNumber   string          `json:"counterAccountNumber"`
	VirtualAccountName     string          `json:"virtualAccountName"`
	VirtualAccountNumber   string          `json:"virtualAccountNumber"`

	// raw keeps the exact bytes received so fields unknown to this struct are
	// still covered by signature verification.
	raw json.RawMessage
}

func (d *WebhookData) UnmarshalJSON(b []byte) error {
	type plain WebhookData
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = WebhookData(p)
	d.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Fields returns the data block as a flat key/value map. Numbers are kept as
// json.Number so they serialize exactly as received.
func (d WebhookData) Fields() (map[string]interface{}, error) {
	raw := d.raw
	if len(raw) == 0 {
		type plain WebhookData
		b, err := json.Marshal(plain(d))
		if err != nil {
			return nil, err
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	fields := make(map[string]interface{})
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}
