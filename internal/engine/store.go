package engine

import (
	"context"
	"time"

	"recon-service/internal/models"
)

// OrderStore is the engine's view of order persistence. The engine never
// owns orders; it reads and writes through this interface only.
type OrderStore interface {
	// GetOrder returns nil, nil when no order has the given id.
	GetOrder(ctx context.Context, id string) (*models.Order, error)

	// ListPendingOrders returns orders in pending_confirmation with the given
	// payment method.
	ListPendingOrders(ctx context.Context, paymentMethod string) ([]models.Order, error)

	// UpdateOrder applies the non-nil fields of patch to the order. Returns
	// ErrDuplicateID when patch.NewID collides with an existing order.
	UpdateOrder(ctx context.Context, id string, patch OrderPatch) error

	// ListOrderIDsWithPrefix returns all order ids sharing the prefix.
	ListOrderIDsWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// OrderPatch is a partial order update. Nil fields are left untouched.
type OrderPatch struct {
	NewID          *string
	Status         *string
	ProviderTxID   *string
	Memo           *string
	RefundedAmount *int64
	RefundedAt     *time.Time
}
