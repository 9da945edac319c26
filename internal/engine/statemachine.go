package engine

import (
	"context"
	"database/sql"
	"errors"

	"recon-service/internal/models"
	"recon-service/internal/util"

	"go.uber.org/zap"
)

// legalTransitions is the complete transition graph. failed and refunded are
// terminal; nothing moves out of them.
var legalTransitions = map[string][]string{
	models.OrderStatusPendingConfirmation: {
		models.OrderStatusConfirmed,
		models.OrderStatusPaid,
		models.OrderStatusFailed,
	},
	models.OrderStatusConfirmed: {models.OrderStatusRefunded},
	models.OrderStatusPaid:      {models.OrderStatusRefunded},
}

// StateMachine is the single authority for order-status transitions. All
// three confirmation paths (webhook, bulk reconciliation, manual confirm)
// funnel through Apply, which is what makes them mutually idempotent.
type StateMachine struct {
	store  OrderStore
	logger *zap.Logger
}

// NewStateMachine creates a state machine over the given order store.
func NewStateMachine(store OrderStore) *StateMachine {
	return &StateMachine{
		store:  store,
		logger: util.GetLogger(),
	}
}

// ApplyRequest describes one requested transition.
type ApplyRequest struct {
	OrderID string
	Target  string
	// Cause tags which confirmation path requested the change; used for
	// logging and metrics only.
	Cause string
	// Patch carries extra fields persisted atomically with the status write
	// (final sequential id, provider transaction id, refund fields, memo).
	Patch OrderPatch
	// Effect runs at most once, after the status write commits. A crash
	// after persistence but before the effect loses the effect, never the
	// status change.
	Effect func(ctx context.Context, order *models.Order)
}

// ApplyResult reports the post-transition order and whether a write happened.
type ApplyResult struct {
	Order *models.Order
	// Applied is false when the order was already in the target status and
	// the call was a no-op.
	Applied bool
}

// Apply loads the order, checks the transition is legal, persists the new
// status together with the patch, then invokes the effect once.
//
// If the order is already in the target status the call succeeds without a
// write or an effect; this is what makes webhook redelivery and duplicate
// manual confirms idempotent. Illegal transitions return
// InvalidTransitionError carrying both statuses.
func (m *StateMachine) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	order, err := m.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, &StoreError{Op: "get order", Err: err}
	}
	if order == nil {
		return nil, &ValidationError{Reason: "order not found: " + req.OrderID}
	}

	if order.Status == req.Target {
		m.logger.Info("Transition already applied, treating as no-op",
			zap.String("order_id", order.ID),
			zap.String("status", order.Status),
			zap.String("cause", req.Cause))
		return &ApplyResult{Order: order, Applied: false}, nil
	}

	if !transitionAllowed(order.Status, req.Target) {
		return nil, &InvalidTransitionError{
			OrderID:   order.ID,
			Current:   order.Status,
			Attempted: req.Target,
		}
	}

	patch := req.Patch
	target := req.Target
	patch.Status = &target

	if err := m.store.UpdateOrder(ctx, order.ID, patch); err != nil {
		if errors.Is(err, ErrDuplicateID) {
			return nil, err
		}
		return nil, &StoreError{Op: "update order", Err: err}
	}

	updated := applyPatch(*order, patch)
	util.TransitionsAppliedTotal.WithLabelValues(req.Target, req.Cause).Inc()
	m.logger.Info("Order transition applied",
		zap.String("order_id", order.ID),
		zap.String("new_id", updated.ID),
		zap.String("from", order.Status),
		zap.String("to", req.Target),
		zap.String("cause", req.Cause))

	if req.Effect != nil {
		req.Effect(ctx, &updated)
	}

	return &ApplyResult{Order: &updated, Applied: true}, nil
}

func transitionAllowed(current, target string) bool {
	for _, t := range legalTransitions[current] {
		if t == target {
			return true
		}
	}
	return false
}

// applyPatch mirrors the store update onto an in-memory copy so the effect
// callback and the caller see the post-transition order without a reload.
func applyPatch(order models.Order, patch OrderPatch) models.Order {
	if patch.NewID != nil {
		order.ID = *patch.NewID
	}
	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.ProviderTxID != nil {
		order.ProviderTxID = sql.NullString{String: *patch.ProviderTxID, Valid: true}
	}
	if patch.Memo != nil {
		order.Memo = sql.NullString{String: *patch.Memo, Valid: true}
	}
	if patch.RefundedAmount != nil {
		order.RefundedAmount = sql.NullInt64{Int64: *patch.RefundedAmount, Valid: true}
	}
	if patch.RefundedAt != nil {
		order.RefundedAt = sql.NullTime{Time: *patch.RefundedAt, Valid: true}
	}
	return order
}
