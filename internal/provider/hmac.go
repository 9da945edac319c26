package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"recon-service/internal/engine"
	"recon-service/internal/models"
)

// CardnetSignatureHeader carries the hex-encoded HMAC-SHA256 signature.
const CardnetSignatureHeader = "X-Cardnet-Signature"

// cardnetPayload is the card network's webhook body.
type cardnetPayload struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
}

var cardnetStatuses = map[string]string{
	"captured": models.OrderStatusPaid,
	"declined": models.OrderStatusFailed,
	"failed":   models.OrderStatusFailed,
	"refunded": models.OrderStatusRefunded,
}

// HMACVerifier authenticates cardnet webhooks by recomputing an HMAC-SHA256
// over the raw request body (and, when the provider requires it, the
// receiving URL) with the per-tenant shared secret.
type HMACVerifier struct {
	secret  []byte
	signURL bool
}

// NewHMACVerifier creates a cardnet verifier. signURL selects the provider
// mode that includes the receiving URL in the signed content.
func NewHMACVerifier(secret string, signURL bool) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), signURL: signURL}
}

func (v *HMACVerifier) Provider() string {
	return Cardnet
}

// Verify recomputes the signature and compares it in constant time against
// the header value, then parses the body. Mismatch is an authentication
// error; a malformed body after a valid signature is a validation error.
func (v *HMACVerifier) Verify(req *WebhookRequest) (*Notification, error) {
	supplied := req.Header.Get(CardnetSignatureHeader)
	if supplied == "" {
		return nil, &engine.AuthenticationError{Provider: Cardnet, Reason: "missing signature header"}
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(req.Body)
	if v.signURL {
		mac.Write([]byte(req.URL))
	}
	expected := mac.Sum(nil)

	suppliedBytes, err := hex.DecodeString(supplied)
	if err != nil {
		return nil, &engine.AuthenticationError{Provider: Cardnet, Reason: "signature is not valid hex"}
	}
	if !hmac.Equal(suppliedBytes, expected) {
		return nil, &engine.AuthenticationError{Provider: Cardnet, Reason: "signature mismatch"}
	}

	var payload cardnetPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, &engine.ValidationError{Reason: "cardnet payload is not valid JSON"}
	}
	if payload.TransactionID == "" || payload.OrderID == "" {
		return nil, &engine.ValidationError{Reason: "cardnet payload missing transaction_id or order_id"}
	}

	return &Notification{
		Provider:       Cardnet,
		TransactionID:  payload.TransactionID,
		OrderID:        payload.OrderID,
		ProviderStatus: payload.Status,
		RawAmount:      payload.Amount,
	}, nil
}

func (v *HMACVerifier) MapStatus(providerStatus string) (string, bool) {
	status, ok := cardnetStatuses[providerStatus]
	return status, ok
}
