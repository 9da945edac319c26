package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recon-service/internal/engine"
	"recon-service/internal/models"
	"recon-service/internal/provider"
	"recon-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// webhookDedupeTTL bounds how long the advisory redelivery fast-path
// remembers a (provider, transaction id) pair.
const webhookDedupeTTL = 24 * time.Hour

// ReconciliationService is the orchestrator for the three confirmation
// paths: webhook ingestion, bulk CSV reconciliation and single manual
// confirmation. All of them funnel through the same state machine, which is
// what keeps them from racing or double-applying side effects.
type ReconciliationService struct {
	store     engine.OrderStore
	sm        *engine.StateMachine
	alloc     *engine.IDAllocator
	providers *provider.Registry
	notifier  Notifier
	notes     ClinicalNoteWriter
	cache     CacheInvalidator
	dedupe    WebhookDeduper
	logger    *zap.Logger
}

// NewReconciliationService wires the engine components and external
// collaborators. dedupe may be nil; the fast-path is then skipped.
func NewReconciliationService(
	store engine.OrderStore,
	providers *provider.Registry,
	notifier Notifier,
	notes ClinicalNoteWriter,
	cache CacheInvalidator,
	dedupe WebhookDeduper,
) *ReconciliationService {
	return &ReconciliationService{
		store:     store,
		sm:        engine.NewStateMachine(store),
		alloc:     engine.NewIDAllocator(store),
		providers: providers,
		notifier:  notifier,
		notes:     notes,
		cache:     cache,
		dedupe:    dedupe,
		logger:    util.GetLogger(),
	}
}

// WebhookResult reports the outcome of one webhook delivery.
type WebhookResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	// Applied is false for redeliveries and ignored provider statuses.
	Applied bool `json:"applied"`
}

// Webhook verifies an inbound provider callback and applies the resulting
// status change. Authentication failures and malformed payloads return typed
// errors without touching any order.
func (s *ReconciliationService) Webhook(ctx context.Context, providerTag string, req *provider.WebhookRequest) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.Webhook")
	defer span.End()

	v, ok := s.providers.Get(providerTag)
	if !ok {
		return nil, &engine.ValidationError{Reason: "unknown provider: " + providerTag}
	}

	n, err := v.Verify(req)
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues(providerTag, "rejected").Inc()
		return nil, err
	}

	target, ok := v.MapStatus(n.ProviderStatus)
	if !ok {
		// provider vocabulary this engine does not act on
		util.WebhooksReceivedTotal.WithLabelValues(providerTag, "ignored").Inc()
		s.logger.Info("Ignoring provider status",
			zap.String("provider", providerTag),
			zap.String("provider_status", n.ProviderStatus),
			zap.String("order_id", n.OrderID))
		return &WebhookResult{OrderID: n.OrderID, Applied: false}, nil
	}

	if s.dedupe != nil {
		first, err := s.dedupe.MarkWebhookSeen(ctx, providerTag, n.TransactionID, webhookDedupeTTL)
		if err != nil {
			s.logger.Warn("Webhook dedupe check failed", zap.Error(err))
		} else if !first {
			s.logger.Info("Webhook redelivery detected",
				zap.String("provider", providerTag),
				zap.String("tx_id", n.TransactionID))
		}
	}

	patch := engine.OrderPatch{ProviderTxID: &n.TransactionID}
	if target == models.OrderStatusRefunded {
		amount := n.RawAmount
		if amount == 0 {
			order, err := s.store.GetOrder(ctx, n.OrderID)
			if err != nil {
				return nil, &engine.StoreError{Op: "get order", Err: err}
			}
			if order != nil {
				amount = order.Amount
			}
		}
		now := time.Now()
		patch.RefundedAmount = &amount
		patch.RefundedAt = &now
	}

	res, err := s.sm.Apply(ctx, engine.ApplyRequest{
		OrderID: n.OrderID,
		Target:  target,
		Cause:   models.CauseWebhook,
		Patch:   patch,
		Effect: func(ctx context.Context, o *models.Order) {
			s.afterTransition(ctx, o, "", models.CauseWebhook, providerTag, n.TransactionID)
		},
	})
	if err != nil {
		var invalid *engine.InvalidTransitionError
		if errors.As(err, &invalid) && models.IsTerminal(invalid.Current) && !models.IsTerminal(target) {
			// redelivery after the order already settled; report accepted
			util.WebhooksReceivedTotal.WithLabelValues(providerTag, "already_applied").Inc()
			return &WebhookResult{OrderID: n.OrderID, Status: invalid.Current, Applied: false}, nil
		}
		util.WebhooksReceivedTotal.WithLabelValues(providerTag, "error").Inc()
		return nil, err
	}

	util.WebhooksReceivedTotal.WithLabelValues(providerTag, "applied").Inc()
	return &WebhookResult{OrderID: res.Order.ID, Status: res.Order.Status, Applied: res.Applied}, nil
}

// RowReport is the per-row outcome of a bulk reconciliation.
type RowReport struct {
	PayerName     string `json:"payer_name"`
	Amount        int64  `json:"amount"`
	Matched       bool   `json:"matched"`
	Reason        string `json:"reason,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	NewPaymentID  string `json:"new_payment_id,omitempty"`
	UpdateSuccess bool   `json:"update_success"`
}

// BulkReport aggregates a whole reconciliation batch. Partial success is the
// normal case, not an error.
type BulkReport struct {
	Total   int
	Updated int
	Rows    []RowReport
}

// BulkReconcile matches each transfer row against the current pending
// bank-transfer orders and confirms every match. A failure on one row never
// aborts the remaining rows.
func (s *ReconciliationService) BulkReconcile(ctx context.Context, transfers []models.TransferRecord) (*BulkReport, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.BulkReconcile")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconcileLatency.Observe(time.Since(start).Seconds())
	}()

	pending, err := s.store.ListPendingOrders(ctx, models.PaymentMethodBankTransfer)
	if err != nil {
		return nil, &engine.StoreError{Op: "list pending orders", Err: err}
	}
	candidates := engine.NewCandidateSet(pending)

	report := &BulkReport{Total: len(transfers), Rows: make([]RowReport, 0, len(transfers))}
	for _, tr := range transfers {
		util.ReconcileRowsTotal.Inc()
		row := RowReport{PayerName: tr.RawPayerName, Amount: tr.Amount}

		cand := candidates.Match(tr)
		if !cand.Matched {
			row.Reason = cand.Reason
			util.TransfersUnmatchedTotal.WithLabelValues(cand.Reason).Inc()
			report.Rows = append(report.Rows, row)
			continue
		}

		row.Matched = true
		row.OrderID = cand.Order.ID
		util.TransfersMatchedTotal.Inc()

		newID, err := s.confirmBankTransfer(ctx, cand.Order.ID, models.CauseBulkReconcile, "")
		if err != nil {
			s.logger.Error("Failed to confirm matched order",
				zap.String("order_id", cand.Order.ID),
				zap.Error(err))
			report.Rows = append(report.Rows, row)
			continue
		}

		row.NewPaymentID = newID
		row.UpdateSuccess = true
		report.Updated++
		report.Rows = append(report.Rows, row)
	}

	return report, nil
}

// MatchedPair is a transfer/order pairing produced by CSV tooling upstream.
type MatchedPair struct {
	Transfer models.TransferRecord `json:"transfer"`
	OrderID  string                `json:"order_id"`
}

// ReconcileMatched confirms pre-matched transfer/order pairs. The pairing is
// trusted; legality of the transition is still enforced per order, so a pair
// naming an already-settled order fails its row only.
func (s *ReconciliationService) ReconcileMatched(ctx context.Context, pairs []MatchedPair) (*BulkReport, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.ReconcileMatched")
	defer span.End()

	report := &BulkReport{Total: len(pairs), Rows: make([]RowReport, 0, len(pairs))}
	for _, pair := range pairs {
		row := RowReport{
			PayerName: pair.Transfer.RawPayerName,
			Amount:    pair.Transfer.Amount,
			Matched:   true,
			OrderID:   pair.OrderID,
		}

		newID, err := s.confirmBankTransfer(ctx, pair.OrderID, models.CauseBulkReconcile, "")
		if err != nil {
			s.logger.Error("Failed to confirm pre-matched order",
				zap.String("order_id", pair.OrderID),
				zap.Error(err))
			report.Rows = append(report.Rows, row)
			continue
		}

		row.NewPaymentID = newID
		row.UpdateSuccess = true
		report.Updated++
		report.Rows = append(report.Rows, row)
	}

	return report, nil
}

// ManualConfirmResult reports a single manual confirmation.
type ManualConfirmResult struct {
	Success bool   `json:"success"`
	OldID   string `json:"old_id"`
	NewID   string `json:"new_id"`
}

// ManualConfirm confirms one pending bank-transfer order by hand. Orders with
// the wrong payment method or already past pending_confirmation are rejected
// before any id is allocated.
func (s *ReconciliationService) ManualConfirm(ctx context.Context, orderID, memo string) (*ManualConfirmResult, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.ManualConfirm")
	defer span.End()

	newID, err := s.confirmBankTransfer(ctx, orderID, models.CauseManualConfirm, memo)
	if err != nil {
		return nil, err
	}

	return &ManualConfirmResult{Success: true, OldID: orderID, NewID: newID}, nil
}

// confirmBankTransfer allocates the next sequential payment id and applies
// the confirmation in one patch. The order must be a bank transfer still in
// pending_confirmation; both checks run before any id is allocated, so a
// replayed row never consumes an id from the sequence. The allocator's
// read-then-write leaves a race window under concurrent allocation; a
// uniqueness conflict on the write retries the allocation once, then fails.
func (s *ReconciliationService) confirmBankTransfer(ctx context.Context, orderID, cause, memo string) (string, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", &engine.StoreError{Op: "get order", Err: err}
	}
	if order == nil {
		return "", &engine.ValidationError{Reason: "order not found: " + orderID}
	}
	if order.PaymentMethod != models.PaymentMethodBankTransfer {
		return "", &engine.ValidationError{Reason: "order is not a bank transfer: " + orderID}
	}
	if order.Status != models.OrderStatusPendingConfirmation {
		return "", &engine.InvalidTransitionError{
			OrderID:   orderID,
			Current:   order.Status,
			Attempted: models.OrderStatusConfirmed,
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		newID, err := s.alloc.Next(ctx, models.BankTransferIDPrefix)
		if err != nil {
			return "", err
		}

		patch := engine.OrderPatch{NewID: &newID}
		if memo != "" {
			patch.Memo = &memo
		}

		oldID := orderID
		res, err := s.sm.Apply(ctx, engine.ApplyRequest{
			OrderID: orderID,
			Target:  models.OrderStatusConfirmed,
			Cause:   cause,
			Patch:   patch,
			Effect: func(ctx context.Context, o *models.Order) {
				s.afterTransition(ctx, o, oldID, cause, "", "")
			},
		})
		if errors.Is(err, engine.ErrDuplicateID) {
			util.IDAllocationRetriesTotal.Inc()
			s.logger.Warn("Sequential id collision, retrying allocation",
				zap.String("order_id", orderID),
				zap.String("collided_id", newID))
			continue
		}
		if err != nil {
			return "", err
		}
		if !res.Applied {
			// a concurrent confirmation won between the pending check and the
			// write; the allocated id was never persisted and must not be
			// reported
			return "", &engine.InvalidTransitionError{
				OrderID:   orderID,
				Current:   res.Order.Status,
				Attempted: models.OrderStatusConfirmed,
			}
		}

		util.PaymentsConfirmedTotal.WithLabelValues(cause).Inc()
		return newID, nil
	}

	return "", fmt.Errorf("sequential id allocation conflict for order %s after retry", orderID)
}

// afterTransition runs the post-persist side effects: event publication,
// cache invalidation and, on the bank-transfer confirmation path, the chart
// note. Failures here are logged and absorbed; the status change has already
// committed.
func (s *ReconciliationService) afterTransition(ctx context.Context, o *models.Order, oldID, cause, providerTag, txID string) {
	event := &models.PaymentEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventTypeForStatus(o.Status),
			Timestamp: time.Now(),
		},
		OrderID:       o.ID,
		OldOrderID:    oldID,
		PatientID:     o.PatientID,
		ProductCode:   o.ProductCode,
		Amount:        o.Amount,
		PaymentMethod: o.PaymentMethod,
		Status:        o.Status,
		Cause:         cause,
		Provider:      providerTag,
		ProviderTxID:  txID,
	}

	if err := s.notifier.Notify(ctx, o, event); err != nil {
		util.NotificationsFailedTotal.Inc()
		s.logger.Error("Failed to publish payment event",
			zap.String("order_id", o.ID),
			zap.Error(err))
	} else {
		util.NotificationsPublishedTotal.Inc()
	}

	if o.Status == models.OrderStatusConfirmed && o.PaymentMethod == models.PaymentMethodBankTransfer {
		body := fmt.Sprintf("銀行振込の入金を確認しました（%s、%d円）", o.ID, o.Amount)
		if err := s.notes.CreateNote(ctx, o.PatientID, o.ProductCode, body); err != nil {
			s.logger.Error("Failed to create clinical note",
				zap.String("patient_id", o.PatientID),
				zap.Error(err))
		}
	}

	if err := s.cache.Invalidate(ctx, o.PatientID); err != nil {
		s.logger.Warn("Failed to invalidate patient cache",
			zap.String("patient_id", o.PatientID),
			zap.Error(err))
	}
}

func eventTypeForStatus(status string) string {
	switch status {
	case models.OrderStatusConfirmed:
		return models.EventTypePaymentConfirmed
	case models.OrderStatusPaid:
		return models.EventTypePaymentPaid
	case models.OrderStatusFailed:
		return models.EventTypePaymentFailed
	case models.OrderStatusRefunded:
		return models.EventTypePaymentRefunded
	default:
		return status
	}
}
