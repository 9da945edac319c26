package service

import (
	"context"
	"time"

	"recon-service/internal/broker"
	"recon-service/internal/models"
	"recon-service/internal/redisclient"
	"recon-service/internal/store"
)

// Notifier delivers a payment event downstream. Fire-and-forget from the
// engine's perspective: failures are logged, never retried here.
type Notifier interface {
	Notify(ctx context.Context, order *models.Order, event *models.PaymentEvent) error
}

// ClinicalNoteWriter records the reorder in the patient chart. Invoked only
// on the bank-transfer confirmation path.
type ClinicalNoteWriter interface {
	CreateNote(ctx context.Context, patientID, productCode, body string) error
}

// CacheInvalidator drops cached patient views after a status change.
// Best-effort.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, patientID string) error
}

// WebhookDeduper is an advisory fast-path for spotting webhook redeliveries.
type WebhookDeduper interface {
	MarkWebhookSeen(ctx context.Context, provider, txID string, ttl time.Duration) (bool, error)
}

// KafkaNotifier publishes payment events to the broker.
type KafkaNotifier struct {
	publisher *broker.EventPublisher
}

func NewKafkaNotifier(publisher *broker.EventPublisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

func (n *KafkaNotifier) Notify(ctx context.Context, _ *models.Order, event *models.PaymentEvent) error {
	return n.publisher.PublishPaymentEvent(ctx, event)
}

// PostgresNoteWriter writes clinical notes through the order store's database.
type PostgresNoteWriter struct {
	store *store.Store
}

func NewPostgresNoteWriter(store *store.Store) *PostgresNoteWriter {
	return &PostgresNoteWriter{store: store}
}

func (w *PostgresNoteWriter) CreateNote(ctx context.Context, patientID, productCode, body string) error {
	return w.store.CreateClinicalNote(ctx, patientID, productCode, body)
}

// RedisCacheInvalidator drops patient cache keys in Redis.
type RedisCacheInvalidator struct {
	client *redisclient.Client
}

func NewRedisCacheInvalidator(client *redisclient.Client) *RedisCacheInvalidator {
	return &RedisCacheInvalidator{client: client}
}

func (c *RedisCacheInvalidator) Invalidate(ctx context.Context, patientID string) error {
	return c.client.InvalidatePatient(ctx, patientID)
}
