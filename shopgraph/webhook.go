package shopgraph

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// VerifyWebhookSignature checks a webhook payload against the base64-encoded
// SHA-256 HMAC header the API attaches to deliveries. The comparison is
// constant time.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(signature))
}

// BulkFinishNotification is the webhook payload posted when a bulk operation
// reaches a terminal state. Delivery plumbing lives outside this package;
// decoding the payload is provided so callers can skip a final poll.
type BulkFinishNotification struct {
	AdminGraphQLAPIID string     `json:"admin_graphql_api_id"`
	Status            BulkStatus `json:"status"`
	Type              string     `json:"type"`
	ErrorCode         string     `json:"error_code"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at"`
}

// ParseBulkFinishNotification decodes a bulk-finish webhook payload.
func ParseBulkFinishNotification(payload []byte) (*BulkFinishNotification, error) {
	var n BulkFinishNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
