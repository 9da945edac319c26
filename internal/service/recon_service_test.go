package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"recon-service/internal/engine"
	"recon-service/internal/models"
	"recon-service/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakeStore struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	updateErrs  []error
	updateCount int
	listIDCalls int
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
	var out []models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPendingConfirmation && o.PaymentMethod == paymentMethod {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateOrder(_ context.Context, id string, patch engine.OrderPatch) error {
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
			return engine.ErrDuplicateID
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
	s.listIDCalls++
	var ids []string
	for id := range s.orders {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeNotifier struct {
	events []*models.PaymentEvent
}

func (n *fakeNotifier) Notify(_ context.Context, _ *models.Order, event *models.PaymentEvent) error {
	n.events = append(n.events, event)
	return nil
}

type fakeNoteWriter struct {
	notes []string
}

func (w *fakeNoteWriter) CreateNote(_ context.Context, patientID, productCode, body string) error {
	w.notes = append(w.notes, patientID+"|"+productCode+"|"+body)
	return nil
}

type fakeCache struct {
	invalidated []string
}

func (c *fakeCache) Invalidate(_ context.Context, patientID string) error {
	c.invalidated = append(c.invalidated, patientID)
	return nil
}

type fixture struct {
	store    *fakeStore
	notifier *fakeNotifier
	notes    *fakeNoteWriter
	cache    *fakeCache
	svc      *ReconciliationService
}

const cardnetSecret = "test-secret"

func newFixture(orders ...models.Order) *fixture {
	f := &fixture{
		store:    newFakeStore(orders...),
		notifier: &fakeNotifier{},
		notes:    &fakeNoteWriter{},
		cache:    &fakeCache{},
	}
	registry := provider.NewRegistry(
		provider.NewHMACVerifier(cardnetSecret, false),
		provider.NewTokenVerifier(),
	)
	f.svc = NewReconciliationService(f.store, registry, f.notifier, f.notes, f.cache, nil)
	return f
}

func bankTransferOrder(id string) models.Order {
	return models.Order{
		ID:            id,
		PatientID:     "pat_1",
		ProductCode:   "RX-30",
		Amount:        30000,
		PaymentMethod: models.PaymentMethodBankTransfer,
		AccountName:   "タナカタロウ",
		Status:        models.OrderStatusPendingConfirmation,
	}
}

func cardOrder(id string) models.Order {
	o := bankTransferOrder(id)
	o.PaymentMethod = models.PaymentMethodCard
	o.AccountName = ""
	return o
}

func signedCardnetRequest(body string) *provider.WebhookRequest {
	mac := hmac.New(sha256.New, []byte(cardnetSecret))
	mac.Write([]byte(body))
	h := http.Header{}
	h.Set(provider.CardnetSignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	return &provider.WebhookRequest{Body: []byte(body), Header: h}
}

// ---- manual confirm ----

func TestManualConfirmAssignsFirstSequentialID(t *testing.T) {
	f := newFixture(bankTransferOrder("bt_pending_abc"))

	res, err := f.svc.ManualConfirm(context.Background(), "bt_pending_abc", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "bt_pending_abc", res.OldID)
	assert.Equal(t, "bt_1", res.NewID)

	confirmed, _ := f.store.GetOrder(context.Background(), "bt_1")
	require.NotNil(t, confirmed)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)

	// side effects: one event, one chart note, one cache invalidation
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.EventTypePaymentConfirmed, f.notifier.events[0].EventType)
	assert.Equal(t, "bt_pending_abc", f.notifier.events[0].OldOrderID)
	assert.Len(t, f.notes.notes, 1)
	assert.Equal(t, []string{"pat_1"}, f.cache.invalidated)
}

func TestManualConfirmAlreadyProcessed(t *testing.T) {
	order := bankTransferOrder("bt_3")
	order.Status = models.OrderStatusConfirmed
	f := newFixture(order)

	_, err := f.svc.ManualConfirm(context.Background(), "bt_3", "")

	var invalid *engine.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.OrderStatusConfirmed, invalid.Current)

	// the allocator is never consulted for an already-processed order
	assert.Zero(t, f.store.listIDCalls)
}

func TestManualConfirmWrongPaymentMethod(t *testing.T) {
	f := newFixture(cardOrder("ord_card"))

	_, err := f.svc.ManualConfirm(context.Background(), "ord_card", "")

	var validation *engine.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Zero(t, f.store.listIDCalls)
}

func TestManualConfirmUnknownOrder(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ManualConfirm(context.Background(), "missing", "")

	var validation *engine.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestManualConfirmStoresMemo(t *testing.T) {
	f := newFixture(bankTransferOrder("bt_pending_abc"))

	_, err := f.svc.ManualConfirm(context.Background(), "bt_pending_abc", "入金確認済み")
	require.NoError(t, err)

	confirmed, _ := f.store.GetOrder(context.Background(), "bt_1")
	require.NotNil(t, confirmed)
	assert.Equal(t, "入金確認済み", confirmed.Memo.String)
}

func TestManualConfirmRetriesAllocationOnce(t *testing.T) {
	f := newFixture(bankTransferOrder("bt_pending_abc"))
	f.store.updateErrs = []error{engine.ErrDuplicateID}

	res, err := f.svc.ManualConfirm(context.Background(), "bt_pending_abc", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, f.store.listIDCalls)
}

func TestManualConfirmFailsAfterSecondCollision(t *testing.T) {
	f := newFixture(bankTransferOrder("bt_pending_abc"))
	f.store.updateErrs = []error{engine.ErrDuplicateID, engine.ErrDuplicateID}

	_, err := f.svc.ManualConfirm(context.Background(), "bt_pending_abc", "")
	require.Error(t, err)

	// order untouched
	order, _ := f.store.GetOrder(context.Background(), "bt_pending_abc")
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPendingConfirmation, order.Status)
}

// ---- bulk reconcile ----

func TestBulkReconcilePartialMatch(t *testing.T) {
	f := newFixture(bankTransferOrder("bt_pending_abc"))

	report, err := f.svc.BulkReconcile(context.Background(), []models.TransferRecord{
		{RawPayerName: "ﾀﾅｶ ﾀﾛｳ", Amount: 30000},
		{RawPayerName: "ｽｽﾞｷ ｲﾁﾛｳ", Amount: 9999},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Updated)
	require.Len(t, report.Rows, 2)

	matched := report.Rows[0]
	assert.True(t, matched.Matched)
	assert.True(t, matched.UpdateSuccess)
	assert.Equal(t, "bt_1", matched.NewPaymentID)

	unmatched := report.Rows[1]
	assert.False(t, unmatched.Matched)
	assert.False(t, unmatched.UpdateSuccess)
	assert.Equal(t, models.MatchReasonNoMatch, unmatched.Reason)
}

func TestBulkReconcileAmbiguousTouchesNothing(t *testing.T) {
	a := bankTransferOrder("bt_pending_a")
	b := bankTransferOrder("bt_pending_b")
	f := newFixture(a, b)

	report, err := f.svc.BulkReconcile(context.Background(), []models.TransferRecord{
		{RawPayerName: "タナカタロウ", Amount: 30000},
	})
	require.NoError(t, err)
	assert.Zero(t, report.Updated)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, models.MatchReasonAmbiguous, report.Rows[0].Reason)
	assert.Zero(t, f.store.updateCount)
}

func TestBulkReconcileSequentialIDsWithinBatch(t *testing.T) {
	a := bankTransferOrder("bt_pending_a")
	b := bankTransferOrder("bt_pending_b")
	b.AccountName = "サトウハナコ"
	b.Amount = 5000
	f := newFixture(a, b)

	report, err := f.svc.BulkReconcile(context.Background(), []models.TransferRecord{
		{RawPayerName: "タナカタロウ", Amount: 30000},
		{RawPayerName: "ｻﾄｳ ﾊﾅｺ", Amount: 5000},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, "bt_1", report.Rows[0].NewPaymentID)
	assert.Equal(t, "bt_2", report.Rows[1].NewPaymentID)
}

func TestReconcileMatchedPairs(t *testing.T) {
	f := newFixture(bankTransferOrder("bt_pending_abc"), bankTransferOrder("bt_pending_xyz"))

	report, err := f.svc.ReconcileMatched(context.Background(), []MatchedPair{
		{Transfer: models.TransferRecord{RawPayerName: "タナカタロウ", Amount: 30000}, OrderID: "bt_pending_abc"},
		{Transfer: models.TransferRecord{RawPayerName: "タナカタロウ", Amount: 30000}, OrderID: "no-such-order"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.True(t, report.Rows[0].UpdateSuccess)
	assert.False(t, report.Rows[1].UpdateSuccess)
}

func TestReconcileMatchedReplayedPairIsNotCounted(t *testing.T) {
	order := bankTransferOrder("bt_1")
	order.Status = models.OrderStatusConfirmed
	f := newFixture(order)

	report, err := f.svc.ReconcileMatched(context.Background(), []MatchedPair{
		{Transfer: models.TransferRecord{RawPayerName: "タナカタロウ", Amount: 30000}, OrderID: "bt_1"},
	})
	require.NoError(t, err)
	assert.Zero(t, report.Updated)
	require.Len(t, report.Rows, 1)
	assert.False(t, report.Rows[0].UpdateSuccess)
	assert.Empty(t, report.Rows[0].NewPaymentID)

	// no write, no id consumed from the sequence, no phantom bt_2
	assert.Zero(t, f.store.updateCount)
	assert.Zero(t, f.store.listIDCalls)
	phantom, _ := f.store.GetOrder(context.Background(), "bt_2")
	assert.Nil(t, phantom)
	assert.Empty(t, f.notifier.events)
}

func TestReconcileMatchedRejectsCardOrder(t *testing.T) {
	f := newFixture(cardOrder("ord_card"))

	report, err := f.svc.ReconcileMatched(context.Background(), []MatchedPair{
		{Transfer: models.TransferRecord{RawPayerName: "タナカタロウ", Amount: 30000}, OrderID: "ord_card"},
	})
	require.NoError(t, err)
	assert.Zero(t, report.Updated)
	require.Len(t, report.Rows, 1)
	assert.False(t, report.Rows[0].UpdateSuccess)

	// the card order keeps its id and status for the provider's webhook
	order, _ := f.store.GetOrder(context.Background(), "ord_card")
	require.NotNil(t, order)
	assert.Equal(t, models.OrderStatusPendingConfirmation, order.Status)
	assert.Zero(t, f.store.updateCount)
	assert.Zero(t, f.store.listIDCalls)
}

// ---- webhook ----

func TestWebhookAppliesPaid(t *testing.T) {
	f := newFixture(cardOrder("ord_1"))
	body := `{"transaction_id":"cn_001","order_id":"ord_1","status":"captured","amount":30000}`

	res, err := f.svc.Webhook(context.Background(), provider.Cardnet, signedCardnetRequest(body))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.OrderStatusPaid, res.Status)

	order, _ := f.store.GetOrder(context.Background(), "ord_1")
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, "cn_001", order.ProviderTxID.String)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.EventTypePaymentPaid, f.notifier.events[0].EventType)
	// no chart note on the card path
	assert.Empty(t, f.notes.notes)
}

func TestWebhookBadSignatureNeverTouchesOrders(t *testing.T) {
	f := newFixture(cardOrder("ord_1"))
	body := `{"transaction_id":"cn_001","order_id":"ord_1","status":"captured","amount":30000}`
	req := signedCardnetRequest(body)
	req.Header.Set(provider.CardnetSignatureHeader, "deadbeef")

	_, err := f.svc.Webhook(context.Background(), provider.Cardnet, req)

	var authErr *engine.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	order, _ := f.store.GetOrder(context.Background(), "ord_1")
	assert.Equal(t, models.OrderStatusPendingConfirmation, order.Status)
	assert.Zero(t, f.store.updateCount)
	assert.Empty(t, f.notifier.events)
}

func TestWebhookRedeliveryIsNoOp(t *testing.T) {
	f := newFixture(cardOrder("ord_1"))
	body := `{"transaction_id":"cn_001","order_id":"ord_1","status":"captured","amount":30000}`

	first, err := f.svc.Webhook(context.Background(), provider.Cardnet, signedCardnetRequest(body))
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := f.svc.Webhook(context.Background(), provider.Cardnet, signedCardnetRequest(body))
	require.NoError(t, err)
	assert.False(t, second.Applied)

	assert.Equal(t, 1, f.store.updateCount)
	assert.Len(t, f.notifier.events, 1)
}

func TestWebhookAfterSettlementReportsAlreadyApplied(t *testing.T) {
	order := cardOrder("ord_1")
	order.Status = models.OrderStatusRefunded
	f := newFixture(order)
	body := `{"transaction_id":"cn_002","order_id":"ord_1","status":"captured","amount":30000}`

	res, err := f.svc.Webhook(context.Background(), provider.Cardnet, signedCardnetRequest(body))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, models.OrderStatusRefunded, res.Status)
	assert.Zero(t, f.store.updateCount)
}

func TestWebhookRefundSetsRefundFields(t *testing.T) {
	order := cardOrder("ord_1")
	order.Status = models.OrderStatusPaid
	f := newFixture(order)
	body := `{"transaction_id":"cn_003","order_id":"ord_1","status":"refunded","amount":30000}`

	res, err := f.svc.Webhook(context.Background(), provider.Cardnet, signedCardnetRequest(body))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	refunded, _ := f.store.GetOrder(context.Background(), "ord_1")
	assert.Equal(t, models.OrderStatusRefunded, refunded.Status)
	assert.Equal(t, int64(30000), refunded.RefundedAmount.Int64)
	assert.True(t, refunded.RefundedAt.Valid)
	assert.WithinDuration(t, time.Now(), refunded.RefundedAt.Time, time.Minute)
}

func TestWebhookUnknownOrderIsDataError(t *testing.T) {
	f := newFixture()
	token, err := provider.EncodeCheckoutToken(provider.CheckoutToken{OrderID: "missing", Mode: "checkout", ProductCode: "RX-30"})
	require.NoError(t, err)
	body := `{"transaction_id":"lp_7f3a91c2b8","status":"PAY_SUCCESS","amount":30000,"custom_param":"` + token + `"}`

	_, err = f.svc.Webhook(context.Background(), provider.Linkpay, &provider.WebhookRequest{Body: []byte(body)})

	var validation *engine.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestWebhookIgnoredProviderStatus(t *testing.T) {
	f := newFixture(cardOrder("ord_1"))
	body := `{"transaction_id":"cn_004","order_id":"ord_1","status":"3ds_challenge","amount":30000}`

	res, err := f.svc.Webhook(context.Background(), provider.Cardnet, signedCardnetRequest(body))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Zero(t, f.store.updateCount)
}

func TestWebhookUnknownProvider(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Webhook(context.Background(), "mystery", &provider.WebhookRequest{Body: []byte("{}")})

	var validation *engine.ValidationError
	assert.ErrorAs(t, err, &validation)
}
