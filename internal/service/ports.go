package service

import (
	"context"
	"time"

	"inventory-sync/internal/models"
	"inventory-sync/internal/remote"
)

// RemoteInventory is the system of record. Implemented by remote.Client.
type RemoteInventory interface {
	FetchAll(ctx context.Context, tenantID string) ([]models.InventoryItem, error)
	Create(ctx context.Context, tenantID string, payload models.CreateItemPayload, opts ...remote.RequestOption) (*models.InventoryItem, error)
	Adjust(ctx context.Context, tenantID, itemID string, payload models.AdjustStockPayload, opts ...remote.RequestOption) (*models.InventoryItem, error)
}

// CacheStore is the local inventory snapshot. Implemented by store.Store.
type CacheStore interface {
	Load(ctx context.Context, tenantID string) ([]models.InventoryItem, error)
	Get(ctx context.Context, tenantID, itemID string) (*models.InventoryItem, error)
	Replace(ctx context.Context, tenantID string, items []models.InventoryItem) error
	Upsert(ctx context.Context, tenantID string, item models.InventoryItem) error
	Remove(ctx context.Context, tenantID, itemID string) error
	LastSynced(ctx context.Context, tenantID string) (time.Time, bool, error)
}

// IntentLog is the pending write log. Implemented by store.Store.
type IntentLog interface {
	Enqueue(ctx context.Context, intent *models.WriteIntent) (int64, error)
	List(ctx context.Context) ([]models.WriteIntent, error)
	RemoveIntent(ctx context.Context, id int64) error
	IncrementRetry(ctx context.Context, id int64, lastErr string) error
	CompleteCreate(ctx context.Context, intentID int64, tenantID, tempID, serverID string) error
	Count(ctx context.Context) (int, error)
	CountByTenant(ctx context.Context, tenantID string) (int, error)
}

// DrainLock excludes drains running in other processes. Implemented by redisclient.DrainLock.
type DrainLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	// Extend renews the lease; false means it was lost to another process
	Extend(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SyncEventPublisher announces drain outcomes. Implemented by broker.EventPublisher.
type SyncEventPublisher interface {
	PublishDrainCompleted(ctx context.Context, event *models.DrainCompletedEvent) error
}
