package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"recon-service/internal/engine"
	"recon-service/internal/models"
)

// CreateOrder inserts a new order. Bank-transfer orders arrive with a
// provisional bt_pending_* id minted by the checkout flow.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, patient_id, product_code, amount, payment_method, account_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		order.ID, order.PatientID, order.ProductCode, order.Amount,
		order.PaymentMethod, order.AccountName, order.Status).
		Scan(&order.CreatedAt, &order.UpdatedAt)
	if isUniqueViolation(err) {
		return engine.ErrDuplicateID
	}
	return err
}

// GetOrder retrieves an order by id. Returns nil, nil when absent.
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListPendingOrders retrieves pending_confirmation orders for a payment method
func (s *Store) ListPendingOrders(ctx context.Context, paymentMethod string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 AND payment_method = $2 ORDER BY created_at",
		models.OrderStatusPendingConfirmation, paymentMethod)
	return orders, err
}

// ListOrderIDsWithPrefix retrieves all order ids sharing a prefix
func (s *Store) ListOrderIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM orders WHERE id LIKE $1 || '%'", prefix)
	return ids, err
}

// UpdateOrder applies the non-nil fields of patch to one order. A colliding
// NewID surfaces as engine.ErrDuplicateID so the caller can retry allocation.
func (s *Store) UpdateOrder(ctx context.Context, id string, patch engine.OrderPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.NewID != nil {
		add("id", *patch.NewID)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ProviderTxID != nil {
		add("provider_tx_id", *patch.ProviderTxID)
	}
	if patch.Memo != nil {
		add("memo", *patch.Memo)
	}
	if patch.RefundedAmount != nil {
		add("refunded_amount", *patch.RefundedAmount)
	}
	if patch.RefundedAt != nil {
		add("refunded_at", *patch.RefundedAt)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return engine.ErrDuplicateID
	}
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("order not found: %s", id)
	}
	return nil
}
