package models

import "time"

// Event types
const (
	EventTypeDrainCompleted = "INVENTORY_DRAIN_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// DrainCompletedEvent published after a drain replayed at least one intent
type DrainCompletedEvent struct {
	BaseEvent
	Processed int      `json:"processed"`
	Failures  int      `json:"failures"`
	Tenants   []string `json:"tenants"`
	Remaining int      `json:"remaining"`
}
