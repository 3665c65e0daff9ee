package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"inventory-sync/internal/apperror"
	"inventory-sync/internal/broker"
	"inventory-sync/internal/models"
	"inventory-sync/internal/remote"
	"inventory-sync/internal/util"

	"go.uber.org/zap"
)

// DrainCoordinator replays the pending write log against the remote service
type DrainCoordinator struct {
	remote    RemoteInventory
	cache     CacheStore
	intents   IntentLog
	writer    *OptimisticWriter
	lock      DrainLock
	publisher SyncEventPublisher
	logger    *zap.Logger

	running atomic.Bool
}

// NewDrainCoordinator creates a new drain coordinator. writer is shared so that snapshot
// reconciliation never interleaves with an optimistic write.
func NewDrainCoordinator(remote RemoteInventory, cache CacheStore, intents IntentLog, writer *OptimisticWriter) *DrainCoordinator {
	return &DrainCoordinator{
		remote:  remote,
		cache:   cache,
		intents: intents,
		writer:  writer,
		logger:  util.GetLogger(),
	}
}

// WithLock adds a cross-process drain lock
func (d *DrainCoordinator) WithLock(lock DrainLock) *DrainCoordinator {
	d.lock = lock
	return d
}

// WithPublisher adds a sync event publisher
func (d *DrainCoordinator) WithPublisher(publisher SyncEventPublisher) *DrainCoordinator {
	d.publisher = publisher
	return d
}

// Running reports whether a drain is in flight
func (d *DrainCoordinator) Running() bool {
	return d.running.Load()
}

// Drain replays every pending intent in enqueue order. A failing intent is kept with an increased
// retry count and does not stop the drain. When anything was replayed, every touched tenant is
// refetched and its snapshot replaced. Overlapping calls return immediately with Skipped set.
func (d *DrainCoordinator) Drain(ctx context.Context) models.DrainResult {
	if !d.running.CompareAndSwap(false, true) {
		util.DrainsTotal.WithLabelValues("skipped").Inc()
		return models.DrainResult{Skipped: true}
	}
	defer d.running.Store(false)

	leased := false
	if d.lock != nil {
		ok, err := d.lock.TryAcquire(ctx)
		if err != nil {
			d.logger.Warn("Drain lock unavailable, draining without cross-process exclusion", zap.Error(err))
		} else if !ok {
			util.DrainsTotal.WithLabelValues("skipped").Inc()
			return models.DrainResult{Skipped: true}
		} else {
			leased = true
			defer func() {
				if err := d.lock.Release(context.Background()); err != nil {
					d.logger.Warn("Failed to release drain lock", zap.Error(err))
				}
			}()
		}
	}

	ctx, span := util.StartSpan(ctx, "DrainCoordinator.Drain")
	defer span.End()

	start := time.Now()
	defer func() {
		util.DrainLatency.Observe(time.Since(start).Seconds())
	}()

	intents, err := d.intents.List(ctx)
	if err != nil {
		d.logger.Error("Failed to read pending write log", zap.Error(err))
		util.DrainsTotal.WithLabelValues("storage_error").Inc()
		return models.DrainResult{}
	}
	if len(intents) == 0 {
		util.DrainsTotal.WithLabelValues("empty").Inc()
		util.PendingIntents.Set(0)
		return models.DrainResult{}
	}

	d.logger.Info("Starting drain", zap.Int("pending", len(intents)))

	var result models.DrainResult
	var tenants []string
	seen := make(map[string]bool)
	resolved := make(map[string]string) // temp id -> server id, for this drain

	for i := range intents {
		intent := intents[i]
		if leased && !d.renewLease(ctx) {
			break
		}
		if err := d.replay(ctx, intents, i, resolved); err != nil {
			result.Failures++
			util.IntentReplaysTotal.WithLabelValues(intent.Type, "failure").Inc()
			d.logger.Warn("Intent replay failed, keeping it for the next drain",
				zap.Int64("intent_id", intent.ID),
				zap.String("type", intent.Type),
				zap.String("tenant_id", intent.TenantID),
				zap.String("target_id", intent.TargetID),
				zap.Int("retry_count", intent.RetryCount+1),
				zap.String("kind", apperror.KindOf(err).String()),
				zap.Error(err))

			if err := d.intents.IncrementRetry(ctx, intent.ID, err.Error()); err != nil {
				d.logger.Error("Failed to record replay failure", zap.Int64("intent_id", intent.ID), zap.Error(err))
			}
			continue
		}

		result.Processed++
		util.IntentReplaysTotal.WithLabelValues(intent.Type, "success").Inc()
		if !seen[intent.TenantID] {
			seen[intent.TenantID] = true
			tenants = append(tenants, intent.TenantID)
		}
	}

	if result.Processed > 0 {
		for _, tenantID := range tenants {
			d.refresh(ctx, tenantID)
		}
	}

	remaining, err := d.intents.Count(ctx)
	if err == nil {
		util.PendingIntents.Set(float64(remaining))
	}

	outcome := "success"
	if result.Failures > 0 {
		outcome = "partial"
	}
	util.DrainsTotal.WithLabelValues(outcome).Inc()

	d.logger.Info("Drain finished",
		zap.Int("processed", result.Processed),
		zap.Int("failures", result.Failures),
		zap.Int("remaining", remaining))

	if d.publisher != nil && result.Processed > 0 {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		event := broker.NewDrainCompletedEvent(result, tenants, remaining)
		if err := d.publisher.PublishDrainCompleted(pubCtx, event); err != nil {
			d.logger.Error("Failed to publish DrainCompleted event", zap.Error(err))
		}
		cancel()
	}

	return result
}

func (d *DrainCoordinator) replay(ctx context.Context, intents []models.WriteIntent, i int, resolved map[string]string) error {
	switch intents[i].Type {
	case models.IntentTypeCreate:
		return d.replayCreate(ctx, intents, i, resolved)
	case models.IntentTypeAdjust:
		return d.replayAdjust(ctx, intents, i, resolved)
	default:
		return fmt.Errorf("unknown intent type %q", intents[i].Type)
	}
}

func (d *DrainCoordinator) replayCreate(ctx context.Context, intents []models.WriteIntent, i int, resolved map[string]string) error {
	intent := intents[i]

	var payload models.CreateItemPayload
	if err := json.Unmarshal(intent.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode create intent: %w", err)
	}

	created, err := d.remote.Create(ctx, intent.TenantID, payload, remote.WithIdempotencyKey(intent.IdempotencyKey))
	if err != nil {
		return err
	}

	// the create stays queued until its dependents point at the server id; a later replay
	// reuses the idempotency key, so the remote answers with the same item
	tempID := intent.TargetID
	if err := d.intents.CompleteCreate(ctx, intent.ID, intent.TenantID, tempID, created.ID); err != nil {
		return err
	}
	resolved[tempID] = created.ID

	d.writer.mu.Lock()
	defer d.writer.mu.Unlock()

	row := *created
	row.PendingSync = false
	if laterIntentsFor(intents, i, tempID, resolved) {
		// later deltas are still folded into the provisional row; keep them visible
		if local, err := d.cache.Get(ctx, intent.TenantID, tempID); err == nil && local != nil {
			row = *local
			row.ID = created.ID
		}
	}
	if err := d.cache.Remove(ctx, intent.TenantID, tempID); err != nil {
		d.logger.Warn("Failed to drop provisional row", zap.String("temp_id", tempID), zap.Error(err))
	}
	if err := d.cache.Upsert(ctx, intent.TenantID, row); err != nil {
		d.logger.Warn("Failed to cache created item", zap.String("item_id", created.ID), zap.Error(err))
	}

	d.logger.Info("Replayed offline create",
		zap.String("tenant_id", intent.TenantID),
		zap.String("temp_id", tempID),
		zap.String("item_id", created.ID))
	return nil
}

func (d *DrainCoordinator) replayAdjust(ctx context.Context, intents []models.WriteIntent, i int, resolved map[string]string) error {
	intent := intents[i]

	target := intent.TargetID
	if id, ok := resolved[target]; ok {
		target = id
	}
	if models.IsTempID(target) {
		return fmt.Errorf("item %s has not been created remotely yet", target)
	}

	var payload models.AdjustStockPayload
	if err := json.Unmarshal(intent.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode adjust intent: %w", err)
	}

	adjusted, err := d.remote.Adjust(ctx, intent.TenantID, target, payload, remote.WithIdempotencyKey(intent.IdempotencyKey))
	if err != nil {
		return err
	}
	if err := d.intents.RemoveIntent(ctx, intent.ID); err != nil {
		return err
	}

	if !laterIntentsFor(intents, i, target, resolved) {
		d.writer.mu.Lock()
		row := *adjusted
		row.PendingSync = false
		if err := d.cache.Upsert(ctx, intent.TenantID, row); err != nil {
			d.logger.Warn("Failed to cache adjusted item", zap.String("item_id", target), zap.Error(err))
		}
		d.writer.mu.Unlock()
	}
	return nil
}

// renewLease extends the cross-process lock before the next replay. A lost lease stops the drain;
// the remaining intents stay queued for whoever holds it now.
func (d *DrainCoordinator) renewLease(ctx context.Context) bool {
	ok, err := d.lock.Extend(ctx)
	if err != nil {
		d.logger.Warn("Failed to extend drain lock", zap.Error(err))
		return true
	}
	if !ok {
		d.logger.Warn("Drain lock lost to another process, stopping drain")
		return false
	}
	return true
}

// refresh replaces a tenant's snapshot with the remote list. Failures are logged only.
func (d *DrainCoordinator) refresh(ctx context.Context, tenantID string) {
	items, err := d.remote.FetchAll(ctx, tenantID)
	if err != nil {
		d.logger.Warn("Post-drain refresh failed, cache keeps optimistic rows",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return
	}

	d.writer.mu.Lock()
	defer d.writer.mu.Unlock()

	if err := replaceSnapshot(ctx, d.cache, d.intents, tenantID, items); err != nil {
		d.logger.Error("Post-drain cache replace failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}
}

// laterIntentsFor reports whether an intent after position i still targets id
func laterIntentsFor(intents []models.WriteIntent, i int, id string, resolved map[string]string) bool {
	for _, next := range intents[i+1:] {
		target := next.TargetID
		if mapped, ok := resolved[target]; ok {
			target = mapped
		}
		if target == id || next.TargetID == id {
			return true
		}
	}
	return false
}

// replaceSnapshot swaps a tenant's cache for the remote list. Remote values win; provisional rows
// whose create is still queued are kept, and rows with queued adjustments stay flagged pending.
func replaceSnapshot(ctx context.Context, cache CacheStore, intents IntentLog, tenantID string, items []models.InventoryItem) error {
	pending, err := intents.List(ctx)
	if err != nil {
		return err
	}

	queuedCreates := make(map[string]bool)
	queuedAdjusts := make(map[string]bool)
	for _, intent := range pending {
		if intent.TenantID != tenantID {
			continue
		}
		switch intent.Type {
		case models.IntentTypeCreate:
			queuedCreates[intent.TargetID] = true
		case models.IntentTypeAdjust:
			queuedAdjusts[intent.TargetID] = true
		}
	}

	snapshot := make([]models.InventoryItem, 0, len(items)+len(queuedCreates))
	for _, item := range items {
		item.PendingSync = queuedAdjusts[item.ID]
		item.Status = nil
		snapshot = append(snapshot, item)
	}

	for tempID := range queuedCreates {
		local, err := cache.Get(ctx, tenantID, tempID)
		if err != nil {
			return err
		}
		if local != nil {
			snapshot = append(snapshot, *local)
		}
	}

	return cache.Replace(ctx, tenantID, snapshot)
}
