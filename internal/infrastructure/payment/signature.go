package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"storefront-orders/internal/domain"
)

// Sign returns the hex HMAC-SHA512 of payload keyed with secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

type webhookEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

func parseWebhook(secret string, payload []byte, signature string) (*WebhookEvent, error) {
	if !validSignature(secret, payload, signature) {
		return nil, domain.ErrInvalidWebhookSignature
	}
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", domain.Validationf("%v", err))
	}
	return &WebhookEvent{Event: env.Event, Reference: env.Data.Reference, Raw: payload}, nil
}
