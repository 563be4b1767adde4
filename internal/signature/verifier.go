// Package signature checks that payment gateway callbacks were signed with the
// merchant checksum key.
//
// The data block is serialized as key=value pairs sorted by key and joined
// with '&'. Nested objects and arrays are JSON encoded, null becomes an empty
// string. The digest is HMAC-SHA256 of that string, hex encoded.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"order-lifecycle/internal/models"
)

type Verifier struct {
	key []byte
}

// NewVerifier creates a verifier for the given checksum key
func NewVerifier(checksumKey string) *Verifier {
	return &Verifier{key: []byte(checksumKey)}
}

// Verify reports whether signature matches the payload's data block.
func (v *Verifier) Verify(payload *models.WebhookPayload, signature string) bool {
	if payload == nil || signature == "" || len(v.key) == 0 {
		return false
	}

	fields, err := payload.Data.Fields()
	if err != nil {
		return false
	}

	expected := v.SignFields(fields)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// SignFields returns the hex digest of the canonical form of fields.
func (v *Verifier) SignFields(fields map[string]interface{}) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(Canonical(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Canonical builds the string that gets signed.
func Canonical(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(stringify(fields[k]))
	}
	return b.String()
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
