package engine

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"recon-service/internal/models"
)

// fakeStore is an in-memory OrderStore for engine tests.
type fakeStore struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	updateCount int
	// updateErrs are returned (and consumed) by successive UpdateOrder calls
	// before the update is applied; a nil entry means success.
	updateErrs []error
	getErr     error
	listErr    error
}

func newFakeStore(orders ...models.Order) *fakeStore {
	s := &fakeStore{orders: make(map[string]*models.Order)}
	for i := range orders {
		o := orders[i]
		s.orders[o.ID] = &o
	}
	return s
}

func (s *fakeStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) ListPendingOrders(_ context.Context, paymentMethod string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPendingConfirmation && o.PaymentMethod == paymentMethod {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateOrder(_ context.Context, id string, patch OrderPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.updateErrs) > 0 {
		err := s.updateErrs[0]
		s.updateErrs = s.updateErrs[1:]
		if err != nil {
			return err
		}
	}

	o, ok := s.orders[id]
	if !ok {
		return sql.ErrNoRows
	}

	if patch.NewID != nil && *patch.NewID != id {
		if _, exists := s.orders[*patch.NewID]; exists {
			return ErrDuplicateID
		}
		delete(s.orders, id)
		o.ID = *patch.NewID
		s.orders[o.ID] = o
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.ProviderTxID != nil {
		o.ProviderTxID = sql.NullString{String: *patch.ProviderTxID, Valid: true}
	}
	if patch.Memo != nil {
		o.Memo = sql.NullString{String: *patch.Memo, Valid: true}
	}
	if patch.RefundedAmount != nil {
		o.RefundedAmount = sql.NullInt64{Int64: *patch.RefundedAmount, Valid: true}
	}
	if patch.RefundedAt != nil {
		o.RefundedAt = sql.NullTime{Time: *patch.RefundedAt, Valid: true}
	}
	s.updateCount++
	return nil
}

func (s *fakeStore) ListOrderIDsWithPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var ids []string
	for id := range s.orders {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
