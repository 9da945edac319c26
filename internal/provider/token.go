package provider

import (
	"encoding/base64"
	"encoding/json"
	"regexp"

	"recon-service/internal/engine"
	"recon-service/internal/models"
)

// CheckoutToken is the opaque correlation token embedded into the outbound
// linkpay payment-link request at checkout time. The provider returns it
// verbatim in a free-text field, letting the webhook locate its order without
// a pre-lookup round trip.
type CheckoutToken struct {
	OrderID     string `json:"order_id"`
	Mode        string `json:"mode"`
	ProductCode string `json:"product_code"`
}

// EncodeCheckoutToken serializes a token for the payment-link request.
func EncodeCheckoutToken(t CheckoutToken) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCheckoutToken parses a token returned by the provider.
func DecodeCheckoutToken(s string) (*CheckoutToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, &engine.ValidationError{Reason: "checkout token is not valid base64"}
	}
	var t CheckoutToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, &engine.ValidationError{Reason: "checkout token is not valid JSON"}
	}
	if t.OrderID == "" {
		return nil, &engine.ValidationError{Reason: "checkout token missing order_id"}
	}
	return &t, nil
}

// linkpayPayload is linkpay's webhook body. CustomParam is the provider's
// free-text passthrough field carrying our checkout token.
type linkpayPayload struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	CustomParam   string `json:"custom_param"`
}

var linkpayStatuses = map[string]string{
	"PAY_SUCCESS":  models.OrderStatusPaid,
	"PAY_FAILURE":  models.OrderStatusFailed,
	"PAY_CANCELED": models.OrderStatusFailed,
	"REFUNDED":     models.OrderStatusRefunded,
}

// linkpay transaction ids look like lp_7f3a91c2b8.
var linkpayTxIDPattern = regexp.MustCompile(`^lp_[0-9a-z]{8,32}$`)

// TokenVerifier authenticates linkpay webhooks through the correlation token
// the engine itself minted at checkout. There is no signature; a webhook
// whose token does not decode never identifies an order and cannot change
// state. A parsed token naming an unknown order is a data error reported by
// the orchestrator, not an authentication failure.
type TokenVerifier struct{}

// NewTokenVerifier creates a linkpay verifier.
func NewTokenVerifier() *TokenVerifier {
	return &TokenVerifier{}
}

func (v *TokenVerifier) Provider() string {
	return Linkpay
}

// Verify parses the payload, decodes the correlation token and checks the
// provider's transaction id is well-formed.
func (v *TokenVerifier) Verify(req *WebhookRequest) (*Notification, error) {
	var payload linkpayPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, &engine.ValidationError{Reason: "linkpay payload is not valid JSON"}
	}
	if !linkpayTxIDPattern.MatchString(payload.TransactionID) {
		return nil, &engine.ValidationError{Reason: "linkpay transaction id is malformed"}
	}
	if payload.CustomParam == "" {
		return nil, &engine.ValidationError{Reason: "linkpay payload missing checkout token"}
	}

	token, err := DecodeCheckoutToken(payload.CustomParam)
	if err != nil {
		return nil, err
	}

	return &Notification{
		Provider:       Linkpay,
		TransactionID:  payload.TransactionID,
		OrderID:        token.OrderID,
		ProviderStatus: payload.Status,
		RawAmount:      payload.Amount,
	}, nil
}

func (v *TokenVerifier) MapStatus(providerStatus string) (string, bool) {
	status, ok := linkpayStatuses[providerStatus]
	return status, ok
}
