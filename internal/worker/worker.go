package worker

import (
	"context"
	"fmt"

	"recon-service/internal/broker"
	"recon-service/internal/models"
	"recon-service/internal/util"

	"go.uber.org/zap"
)

// EventLedger records which events have already been dispatched so that a
// Kafka redelivery does not notify the patient twice.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Dispatcher delivers one patient-facing notification for a payment event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.PaymentEvent) error
}

// NotificationWorker consumes payment events and dispatches patient
// notifications. Delivery is at-least-once from Kafka; the ledger makes the
// dispatch effectively once.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	ledger       EventLedger
	dispatcher   Dispatcher
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	ledger EventLedger,
	dispatcher Dispatcher,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer:   consumer,
		ledger:     ledger,
		dispatcher: dispatcher,
		logger:     util.ComponentLogger("notification-worker"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentEvent(w.handlePaymentEvent)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handlePaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	processed, err := w.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event ledger: %w", err)
	}
	if processed {
		w.logger.Info("Skipping already processed event",
			zap.String("event_id", event.EventID),
			zap.String("order_id", event.OrderID))
		return nil
	}

	if err := w.dispatcher.Dispatch(ctx, event); err != nil {
		// returning the error leaves the offset uncommitted for redelivery
		return fmt.Errorf("failed to dispatch notification for order %s: %w", event.OrderID, err)
	}

	if err := w.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	w.logger.Info("Dispatched payment notification",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
		zap.String("patient_id", event.PatientID),
		zap.String("cause", event.Cause))
	return nil
}

// LogDispatcher is the default dispatcher. It records the notification in the
// service log; the clinic's messaging integration plugs in behind the same
// interface.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a dispatcher that logs notifications
func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{logger: util.ComponentLogger("notification-dispatcher")}
}

// Dispatch logs the patient notification
func (d *LogDispatcher) Dispatch(_ context.Context, event *models.PaymentEvent) error {
	d.logger.Info("Payment notification",
		zap.String("patient_id", event.PatientID),
		zap.String("order_id", event.OrderID),
		zap.String("status", event.Status),
		zap.Int64("amount", event.Amount))
	return nil
}
