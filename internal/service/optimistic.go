package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"inventory-sync/internal/apperror"
	"inventory-sync/internal/models"
	"inventory-sync/internal/status"
	"inventory-sync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OptimisticWriter applies writes to the local cache before the remote service confirms them
// and queues the matching intent for replay.
type OptimisticWriter struct {
	cache   CacheStore
	intents IntentLog
	logger  *zap.Logger
	now     func() time.Time

	// mu serializes local-view mutations that must agree with the intent log
	mu sync.Mutex
}

// NewOptimisticWriter creates a new optimistic writer
func NewOptimisticWriter(cache CacheStore, intents IntentLog) *OptimisticWriter {
	return &OptimisticWriter{
		cache:   cache,
		intents: intents,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// ApplyCreate stores a provisional item under a temp id and queues its creation. idempotencyKey is
// the key of a remote attempt that already failed, or empty to get a fresh one.
func (w *OptimisticWriter) ApplyCreate(ctx context.Context, tenantID string, payload models.CreateItemPayload, idempotencyKey string) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "OptimisticWriter.ApplyCreate")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	item := models.InventoryItem{
		ID:                   models.TempIDPrefix + uuid.New().String(),
		TenantID:             tenantID,
		Name:                 payload.Name,
		Category:             payload.Category,
		DosageForm:           payload.DosageForm,
		Strength:             payload.Strength,
		QuantityInStock:      clampQuantity(payload.QuantityInStock),
		ReorderLevel:         clampQuantity(payload.ReorderLevel),
		UnitPrice:            payload.UnitPrice,
		SellingPrice:         payload.SellingPrice,
		ExpiryDate:           payload.ExpiryDate,
		RequiresPrescription: payload.RequiresPrescription,
		IsAvailable:          payload.IsAvailable == nil || *payload.IsAvailable,
		UpdatedAt:            now,
		PendingSync:          true,
	}

	if err := w.enqueue(ctx, models.IntentTypeCreate, tenantID, item.ID, payload, idempotencyKey); err != nil {
		return nil, err
	}
	if err := w.cache.Upsert(ctx, tenantID, item); err != nil {
		return nil, err
	}

	util.OfflineWritesTotal.WithLabelValues(models.IntentTypeCreate).Inc()
	w.logger.Info("Queued offline create",
		zap.String("tenant_id", tenantID),
		zap.String("temp_id", item.ID),
		zap.String("name", item.Name))

	item = status.Apply(item, now)
	return &item, nil
}

// ApplyAdjust applies a stock delta to a cached item and queues the delta itself
func (w *OptimisticWriter) ApplyAdjust(ctx context.Context, tenantID, itemID string, payload models.AdjustStockPayload, idempotencyKey string) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "OptimisticWriter.ApplyAdjust")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	current, err := w.cache.Get(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperror.Validation("service.SubmitAdjust", 404,
			fmt.Sprintf("item %s is not in the local cache", itemID))
	}

	now := w.now()
	item := *current
	item.QuantityInStock = clampQuantity(current.QuantityInStock + payload.Delta)
	item.UpdatedAt = now
	item.PendingSync = true

	if err := w.enqueue(ctx, models.IntentTypeAdjust, tenantID, itemID, payload, idempotencyKey); err != nil {
		return nil, err
	}
	if err := w.cache.Upsert(ctx, tenantID, item); err != nil {
		return nil, err
	}

	util.OfflineWritesTotal.WithLabelValues(models.IntentTypeAdjust).Inc()
	w.logger.Info("Queued offline stock adjustment",
		zap.String("tenant_id", tenantID),
		zap.String("item_id", itemID),
		zap.Int("delta", payload.Delta),
		zap.Int("local_quantity", item.QuantityInStock))

	item = status.Apply(item, now)
	return &item, nil
}

func (w *OptimisticWriter) enqueue(ctx context.Context, intentType, tenantID, targetID string, payload interface{}, idempotencyKey string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s intent: %w", intentType, err)
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	intent := &models.WriteIntent{
		Type:           intentType,
		TenantID:       tenantID,
		TargetID:       targetID,
		Payload:        data,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      w.now(),
	}
	if _, err := w.intents.Enqueue(ctx, intent); err != nil {
		return err
	}

	if n, err := w.intents.Count(ctx); err == nil {
		util.PendingIntents.Set(float64(n))
	}
	return nil
}

func clampQuantity(q int) int {
	if q < 0 {
		return 0
	}
	return q
}
