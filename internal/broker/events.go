package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"recon-service/internal/models"
	"recon-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes payment domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentEvent publishes a payment status event keyed by order id
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// EventHandler routes consumed payment events
type EventHandler struct {
	logger         *zap.Logger
	onPaymentEvent func(context.Context, *models.PaymentEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnPaymentEvent registers the handler for payment events
func (eh *EventHandler) OnPaymentEvent(handler func(context.Context, *models.PaymentEvent) error) {
	eh.onPaymentEvent = handler
}

// HandleMessage routes a Kafka message to the registered handler
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch base.EventType {
	case models.EventTypePaymentConfirmed,
		models.EventTypePaymentPaid,
		models.EventTypePaymentFailed,
		models.EventTypePaymentRefunded:
		if eh.onPaymentEvent == nil {
			return nil
		}
		var event models.PaymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal payment event: %w", err)
		}
		return eh.onPaymentEvent(ctx, &event)

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", base.EventType))
	}

	return nil
}
