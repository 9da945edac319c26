package provider

import (
	"net/http"
)

// Provider tags used on the inbound webhook route.
const (
	Cardnet = "cardnet"
	Linkpay = "linkpay"
)

// WebhookRequest is the transport-independent view of one inbound webhook
// delivery.
type WebhookRequest struct {
	Body   []byte
	Header http.Header
	// URL is the full receiving URL; providers that sign the URL along with
	// the body need it to recompute the signature.
	URL string
}

// Notification is the minimal structured data a verifier extracts from an
// authenticated webhook. Verifiers never mutate state.
type Notification struct {
	Provider       string
	TransactionID  string
	OrderID        string
	ProviderStatus string
	RawAmount      int64
}

// Verifier authenticates an inbound webhook for one payment provider and
// extracts the data needed to locate the target order.
type Verifier interface {
	Provider() string
	Verify(req *WebhookRequest) (*Notification, error)
	// MapStatus translates the provider's status vocabulary to an order
	// status. The second return is false for vocabulary the engine ignores.
	MapStatus(providerStatus string) (string, bool)
}

// Registry holds the configured verifiers keyed by provider tag.
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry creates a registry over the given verifiers.
func NewRegistry(verifiers ...Verifier) *Registry {
	m := make(map[string]Verifier, len(verifiers))
	for _, v := range verifiers {
		m[v.Provider()] = v
	}
	return &Registry{verifiers: m}
}

// Get returns the verifier for a provider tag.
func (r *Registry) Get(provider string) (Verifier, bool) {
	v, ok := r.verifiers[provider]
	return v, ok
}
