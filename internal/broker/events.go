package broker

import (
	"context"
	"time"

	"inventory-sync/internal/models"

	"github.com/google/uuid"
)

// EventPublisher handles publishing sync events
type EventPublisher struct {
	producer *Producer
	source   string
}

// NewEventPublisher creates a new event publisher. source identifies this terminal in event keys.
func NewEventPublisher(producer *Producer, source string) *EventPublisher {
	return &EventPublisher{producer: producer, source: source}
}

// NewDrainCompletedEvent builds a DrainCompleted event with a fresh id
func NewDrainCompletedEvent(result models.DrainResult, tenants []string, remaining int) *models.DrainCompletedEvent {
	return &models.DrainCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeDrainCompleted,
			Timestamp: time.Now(),
		},
		Processed: result.Processed,
		Failures:  result.Failures,
		Tenants:   tenants,
		Remaining: remaining,
	}
}

// PublishDrainCompleted publishes DrainCompleted event
func (ep *EventPublisher) PublishDrainCompleted(ctx context.Context, event *models.DrainCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, "drain-"+ep.source, event)
}
