package service

import (
	"context"
	"time"

	"inventory-sync/internal/apperror"
	"inventory-sync/internal/connectivity"
	"inventory-sync/internal/models"
	"inventory-sync/internal/remote"
	"inventory-sync/internal/status"
	"inventory-sync/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InventoryService is the entry point used by the UI layer. Writes go to the remote service first
// and fall back to the optimistic path only on retryable failures.
type InventoryService struct {
	remote      RemoteInventory
	cache       CacheStore
	intents     IntentLog
	observer    connectivity.Observer
	writer      *OptimisticWriter
	drainer     *DrainCoordinator
	onAuthError func(error)
	logger      *zap.Logger
	now         func() time.Time
}

// NewInventoryService creates a new inventory service
func NewInventoryService(
	remote RemoteInventory,
	cache CacheStore,
	intents IntentLog,
	observer connectivity.Observer,
	writer *OptimisticWriter,
	drainer *DrainCoordinator,
) *InventoryService {
	return &InventoryService{
		remote:   remote,
		cache:    cache,
		intents:  intents,
		observer: observer,
		writer:   writer,
		drainer:  drainer,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// OnAuthError registers the session-invalidation hook called when the remote rejects credentials
func (s *InventoryService) OnAuthError(fn func(error)) {
	s.onAuthError = fn
}

// Load reads from the remote service when online and from the cache otherwise, falling back to
// the cache when the remote read fails with a retryable error.
func (s *InventoryService) Load(ctx context.Context, tenantID string) (*models.InventoryView, error) {
	if !s.observer.Online() {
		return s.LoadFromCache(ctx, tenantID)
	}

	view, err := s.LoadFromRemote(ctx, tenantID)
	if err != nil && apperror.IsRetryable(err) {
		s.logger.Warn("Remote read failed, serving cached inventory",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return s.LoadFromCache(ctx, tenantID)
	}
	return view, err
}

// LoadFromRemote fetches the canonical list and makes it the tenant's cached snapshot
func (s *InventoryService) LoadFromRemote(ctx context.Context, tenantID string) (*models.InventoryView, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.LoadFromRemote")
	defer span.End()

	items, err := s.remote.FetchAll(ctx, tenantID)
	if err != nil {
		s.handleTerminal(err)
		return nil, err
	}

	s.writer.mu.Lock()
	err = replaceSnapshot(ctx, s.cache, s.intents, tenantID, items)
	s.writer.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// read back so provisional rows kept by the merge are part of the view
	cached, err := s.cache.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	util.InventoryReadsTotal.WithLabelValues(models.SourceRemote).Inc()

	now := s.now()
	return &models.InventoryView{
		TenantID: tenantID,
		Source:   models.SourceRemote,
		CachedAt: &now,
		Items:    status.ApplyAll(cached, now),
	}, nil
}

// LoadFromCache returns the last known snapshot of a tenant
func (s *InventoryService) LoadFromCache(ctx context.Context, tenantID string) (*models.InventoryView, error) {
	items, err := s.cache.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	view := &models.InventoryView{
		TenantID: tenantID,
		Source:   models.SourceCache,
		Items:    status.ApplyAll(items, s.now()),
	}

	synced, ok, err := s.cache.LastSynced(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if ok {
		view.CachedAt = &synced
	}

	util.InventoryReadsTotal.WithLabelValues(models.SourceCache).Inc()
	return view, nil
}

// SubmitCreate creates an item remotely, or provisionally when the remote is unreachable
func (s *InventoryService) SubmitCreate(ctx context.Context, tenantID string, payload models.CreateItemPayload) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SubmitCreate")
	defer span.End()

	if !s.observer.Online() {
		return s.writer.ApplyCreate(ctx, tenantID, payload, "")
	}

	// a queued replay reuses this key, so a create the remote committed before failing is not
	// applied twice
	key := uuid.New().String()
	created, err := s.remote.Create(ctx, tenantID, payload, remote.WithIdempotencyKey(key))
	if err != nil {
		if apperror.IsRetryable(err) {
			s.logger.Warn("Remote create failed, applying offline",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
			return s.writer.ApplyCreate(ctx, tenantID, payload, key)
		}
		s.handleTerminal(err)
		return nil, err
	}

	s.cacheConfirmed(ctx, tenantID, *created)
	item := status.Apply(*created, s.now())
	return &item, nil
}

// SubmitAdjust adjusts stock remotely, or optimistically when the remote is unreachable. Items
// with queued intents are always adjusted optimistically so replay order is kept.
func (s *InventoryService) SubmitAdjust(ctx context.Context, tenantID, itemID string, payload models.AdjustStockPayload) (*models.InventoryItem, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SubmitAdjust")
	defer span.End()

	queued, err := s.hasQueuedIntents(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if queued || !s.observer.Online() {
		return s.writer.ApplyAdjust(ctx, tenantID, itemID, payload, "")
	}

	key := uuid.New().String()
	adjusted, err := s.remote.Adjust(ctx, tenantID, itemID, payload, remote.WithIdempotencyKey(key))
	if err != nil {
		if apperror.IsRetryable(err) {
			s.logger.Warn("Remote adjust failed, applying offline",
				zap.String("tenant_id", tenantID),
				zap.String("item_id", itemID),
				zap.Error(err))
			return s.writer.ApplyAdjust(ctx, tenantID, itemID, payload, key)
		}
		s.handleTerminal(err)
		return nil, err
	}

	s.cacheConfirmed(ctx, tenantID, *adjusted)
	item := status.Apply(*adjusted, s.now())
	return &item, nil
}

// DrainNow replays the pending write log immediately. It does not touch the background retry
// schedule; the HTTP surface drains through worker.SyncWorker.DrainNow instead.
func (s *InventoryService) DrainNow(ctx context.Context) models.DrainResult {
	return s.drainer.Drain(ctx)
}

// PendingCount returns the number of queued intents across all tenants
func (s *InventoryService) PendingCount(ctx context.Context) (int, error) {
	return s.intents.Count(ctx)
}

// PendingCountByTenant returns the number of queued intents of one tenant
func (s *InventoryService) PendingCountByTenant(ctx context.Context, tenantID string) (int, error) {
	return s.intents.CountByTenant(ctx, tenantID)
}

func (s *InventoryService) hasQueuedIntents(ctx context.Context, tenantID, itemID string) (bool, error) {
	if models.IsTempID(itemID) {
		return true, nil
	}

	intents, err := s.intents.List(ctx)
	if err != nil {
		return false, err
	}
	for _, intent := range intents {
		if intent.TenantID == tenantID && intent.TargetID == itemID {
			return true, nil
		}
	}
	return false, nil
}

// cacheConfirmed stores a server-confirmed row. The remote write already succeeded, so a cache
// failure is reported in the log and does not fail the call.
func (s *InventoryService) cacheConfirmed(ctx context.Context, tenantID string, item models.InventoryItem) {
	item.PendingSync = false

	s.writer.mu.Lock()
	defer s.writer.mu.Unlock()

	if err := s.cache.Upsert(ctx, tenantID, item); err != nil {
		s.logger.Error("Failed to cache confirmed item",
			zap.String("tenant_id", tenantID),
			zap.String("item_id", item.ID),
			zap.Error(err))
	}
}

func (s *InventoryService) handleTerminal(err error) {
	kind := apperror.KindOf(err)
	switch kind {
	case apperror.KindValidation, apperror.KindAuth:
		util.TerminalErrorsTotal.WithLabelValues(kind.String()).Inc()
	}
	if kind == apperror.KindAuth && s.onAuthError != nil {
		s.onAuthError(err)
	}
}
