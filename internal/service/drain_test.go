package service

import (
	"context"
	"errors"
	"testing"

	"inventory-sync/internal/apperror"
	"inventory-sync/internal/models"
	"inventory-sync/internal/status"
	"inventory-sync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainReplayMatchesLocalFold(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seedBoth(t, "pharmacy-a", stockItem("item-1", "Amoxicillin 250mg", 10))

	var local *models.InventoryItem
	for _, delta := range []int{-3, 5, -20, 4, 7, -2} {
		var err error
		local, err = h.svc.SubmitAdjust(ctx, "pharmacy-a", "item-1", models.AdjustStockPayload{Delta: delta})
		require.NoError(t, err)
	}
	assert.Equal(t, 9, local.QuantityInStock)

	queued, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 6)

	h.observer.SetOnline(true)
	result := h.svc.DrainNow(ctx)

	assert.Equal(t, models.DrainResult{Processed: 6}, result)
	assert.Equal(t, local.QuantityInStock, h.remote.quantity("pharmacy-a", "item-1"))

	// every replay carried the key stored with its intent, in enqueue order
	require.Len(t, h.remote.keys, 6)
	for i, intent := range queued {
		assert.Equal(t, intent.IdempotencyKey, h.remote.keys[i])
	}

	cached, err := h.store.Get(ctx, "pharmacy-a", "item-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 9, cached.QuantityInStock)
	assert.False(t, cached.PendingSync)

	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDrainPartialFailure(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seedBoth(t, "pharmacy-a",
		stockItem("a", "Amoxicillin 250mg", 20),
		stockItem("b", "Ibuprofen 200mg", 20),
		stockItem("c", "Paracetamol 500mg", 20),
	)
	for _, id := range []string{"a", "b", "c"} {
		_, err := h.svc.SubmitAdjust(ctx, "pharmacy-a", id, models.AdjustStockPayload{Delta: -1})
		require.NoError(t, err)
	}

	h.remote.fail = func(op string, n int) error {
		if n == 2 {
			return apperror.Server("remote.Adjust", 503, "maintenance")
		}
		return nil
	}

	result := h.drainer.Drain(ctx)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failures)
	assert.False(t, result.Skipped)

	remaining, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", remaining[0].TargetID)
	assert.Equal(t, 1, remaining[0].RetryCount)
	assert.Contains(t, remaining[0].LastError, "maintenance")

	assert.Equal(t, 19, h.remote.quantity("pharmacy-a", "a"))
	assert.Equal(t, 20, h.remote.quantity("pharmacy-a", "b"))
	assert.Equal(t, 19, h.remote.quantity("pharmacy-a", "c"))

	// refreshed from the remote, with the still-queued item flagged
	b, err := h.store.Get(ctx, "pharmacy-a", "b")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.PendingSync)

	c, err := h.store.Get(ctx, "pharmacy-a", "c")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, c.PendingSync)

	// the next drain retries the survivor
	h.remote.fail = nil
	result = h.drainer.Drain(ctx)
	assert.Equal(t, models.DrainResult{Processed: 1}, result)
	assert.Equal(t, 19, h.remote.quantity("pharmacy-a", "b"))
}

func TestDrainReconnectionRoundTrip(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	created, err := h.svc.SubmitCreate(ctx, "pharmacy-a", createPayload("Paracetamol 500mg", 50))
	require.NoError(t, err)
	assert.True(t, models.IsTempID(created.ID))
	assert.Contains(t, created.Status.Tags, status.TagPendingSync)

	h.observer.SetOnline(true)
	result := h.svc.DrainNow(ctx)
	assert.Equal(t, models.DrainResult{Processed: 1}, result)

	view, err := h.svc.LoadFromCache(ctx, "pharmacy-a")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)

	item := view.Items[0]
	assert.Equal(t, "srv-1", item.ID)
	assert.Equal(t, "Paracetamol 500mg", item.Name)
	assert.Equal(t, 50, item.QuantityInStock)
	assert.False(t, item.PendingSync)
	assert.NotContains(t, item.Status.Tags, status.TagPendingSync)
	require.NotNil(t, view.CachedAt)
}

func TestDrainResolvesTempIDForLaterAdjust(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	created, err := h.svc.SubmitCreate(ctx, "pharmacy-a", createPayload("Paracetamol 500mg", 50))
	require.NoError(t, err)
	_, err = h.svc.SubmitAdjust(ctx, "pharmacy-a", created.ID, models.AdjustStockPayload{Delta: -8})
	require.NoError(t, err)

	result := h.drainer.Drain(ctx)
	assert.Equal(t, models.DrainResult{Processed: 2}, result)
	assert.Equal(t, 42, h.remote.quantity("pharmacy-a", "srv-1"))

	items, err := h.store.Load(ctx, "pharmacy-a")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "srv-1", items[0].ID)
	assert.Equal(t, 42, items[0].QuantityInStock)
}

func TestDrainFailedCreateHoldsBackDependentAdjust(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	created, err := h.svc.SubmitCreate(ctx, "pharmacy-a", createPayload("Paracetamol 500mg", 50))
	require.NoError(t, err)
	_, err = h.svc.SubmitAdjust(ctx, "pharmacy-a", created.ID, models.AdjustStockPayload{Delta: -8})
	require.NoError(t, err)

	h.remote.fail = func(op string, n int) error {
		return apperror.Network("remote.Create", errors.New("connection refused"))
	}

	result := h.drainer.Drain(ctx)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 2, result.Failures)
	// the adjust never reached the remote
	assert.Equal(t, 1, h.remote.writes)

	intents, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	for _, intent := range intents {
		assert.Equal(t, 1, intent.RetryCount)
		assert.Equal(t, created.ID, intent.TargetID)
	}

	provisional, err := h.store.Get(ctx, "pharmacy-a", created.ID)
	require.NoError(t, err)
	require.NotNil(t, provisional)
	assert.Equal(t, 42, provisional.QuantityInStock)

	h.remote.fail = nil
	result = h.drainer.Drain(ctx)
	assert.Equal(t, models.DrainResult{Processed: 2}, result)
	assert.Equal(t, 42, h.remote.quantity("pharmacy-a", "srv-1"))
}

func TestDrainTerminalFailureStaysQueued(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seedBoth(t, "pharmacy-a", stockItem("item-1", "Amoxicillin 250mg", 10))

	_, err := h.svc.SubmitAdjust(ctx, "pharmacy-a", "item-1", models.AdjustStockPayload{Delta: 2})
	require.NoError(t, err)

	h.remote.fail = func(op string, n int) error {
		return apperror.Validation("remote.Adjust", 422, "item archived")
	}

	result := h.drainer.Drain(ctx)
	assert.Equal(t, models.DrainResult{Failures: 1}, result)

	intents, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, 1, intents[0].RetryCount)
}

func TestDrainEmptyLog(t *testing.T) {
	h := newHarness(t, true)
	publisher := &fakePublisher{}
	h.drainer.WithPublisher(publisher)

	result := h.drainer.Drain(context.Background())
	assert.Equal(t, models.DrainResult{}, result)
	assert.Empty(t, publisher.events)
	assert.Equal(t, 0, h.remote.writes)
}

func TestDrainSkipsWhileRunning(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seedBoth(t, "pharmacy-a", stockItem("item-1", "Amoxicillin 250mg", 10))
	_, err := h.svc.SubmitAdjust(ctx, "pharmacy-a", "item-1", models.AdjustStockPayload{Delta: 1})
	require.NoError(t, err)

	h.remote.entered = make(chan struct{})
	h.remote.block = make(chan struct{})

	done := make(chan models.DrainResult)
	go func() {
		done <- h.drainer.Drain(ctx)
	}()

	<-h.remote.entered
	assert.True(t, h.drainer.Running())
	assert.Equal(t, models.DrainResult{Skipped: true}, h.drainer.Drain(ctx))

	close(h.remote.block)
	assert.Equal(t, models.DrainResult{Processed: 1}, <-done)
	assert.False(t, h.drainer.Running())
	assert.Equal(t, 11, h.remote.quantity("pharmacy-a", "item-1"))
}

func TestDrainRespectsCrossProcessLock(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seedBoth(t, "pharmacy-a", stockItem("item-1", "Amoxicillin 250mg", 10))
	_, err := h.svc.SubmitAdjust(ctx, "pharmacy-a", "item-1", models.AdjustStockPayload{Delta: 1})
	require.NoError(t, err)

	lock := &fakeLock{held: true}
	h.drainer.WithLock(lock)

	assert.Equal(t, models.DrainResult{Skipped: true}, h.drainer.Drain(ctx))
	assert.Equal(t, 0, h.remote.writes)

	lock.held = false
	assert.Equal(t, models.DrainResult{Processed: 1}, h.drainer.Drain(ctx))
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestDrainPublishesCompletion(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seedBoth(t, "pharmacy-a", stockItem("item-1", "Amoxicillin 250mg", 10))
	h.seedBoth(t, "pharmacy-b", stockItem("item-9", "Cetirizine 10mg", 4))

	_, err := h.svc.SubmitAdjust(ctx, "pharmacy-a", "item-1", models.AdjustStockPayload{Delta: -1})
	require.NoError(t, err)
	_, err = h.svc.SubmitAdjust(ctx, "pharmacy-b", "item-9", models.AdjustStockPayload{Delta: 6})
	require.NoError(t, err)

	publisher := &fakePublisher{}
	h.drainer.WithPublisher(publisher)

	result := h.drainer.Drain(ctx)
	assert.Equal(t, models.DrainResult{Processed: 2}, result)

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, models.EventTypeDrainCompleted, event.EventType)
	assert.Equal(t, 2, event.Processed)
	assert.Equal(t, 0, event.Remaining)
	assert.Equal(t, []string{"pharmacy-a", "pharmacy-b"}, event.Tenants)

	// both tenants were refreshed
	b, err := h.store.Get(ctx, "pharmacy-b", "item-9")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 10, b.QuantityInStock)
	assert.False(t, b.PendingSync)
}

// flakyIntentLog fails the first n create completions
type flakyIntentLog struct {
	*store.Store
	completeFailures int
}

func (l *flakyIntentLog) CompleteCreate(ctx context.Context, intentID int64, tenantID, tempID, serverID string) error {
	if l.completeFailures > 0 {
		l.completeFailures--
		return apperror.Storage("store.CompleteCreate", errors.New("database is locked"))
	}
	return l.Store.CompleteCreate(ctx, intentID, tenantID, tempID, serverID)
}

func TestDrainCreateCompletionFailureKeepsDependentsReplayable(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	created, err := h.svc.SubmitCreate(ctx, "pharmacy-a", createPayload("Paracetamol 500mg", 50))
	require.NoError(t, err)
	_, err = h.svc.SubmitAdjust(ctx, "pharmacy-a", created.ID, models.AdjustStockPayload{Delta: -8})
	require.NoError(t, err)

	flaky := NewDrainCoordinator(h.remote, h.store, &flakyIntentLog{Store: h.store, completeFailures: 1}, h.writer)
	result := flaky.Drain(ctx)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 2, result.Failures)
	// the remote took the create, but locally nothing moved
	assert.Equal(t, 1, h.remote.count("pharmacy-a"))

	intents, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, models.IntentTypeCreate, intents[0].Type)
	for _, intent := range intents {
		assert.Equal(t, created.ID, intent.TargetID)
	}

	result = h.drainer.Drain(ctx)
	assert.Equal(t, models.DrainResult{Processed: 2}, result)
	assert.Equal(t, 1, h.remote.count("pharmacy-a"))
	assert.Equal(t, 42, h.remote.quantity("pharmacy-a", "srv-1"))

	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	items, err := h.store.Load(ctx, "pharmacy-a")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "srv-1", items[0].ID)
	assert.Equal(t, 42, items[0].QuantityInStock)
}

func TestDrainRenewsLeaseBeforeEachIntent(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seedBoth(t, "pharmacy-a", stockItem("item-1", "Amoxicillin 250mg", 10))
	for i := 0; i < 3; i++ {
		_, err := h.svc.SubmitAdjust(ctx, "pharmacy-a", "item-1", models.AdjustStockPayload{Delta: 1})
		require.NoError(t, err)
	}

	lock := &fakeLock{}
	h.drainer.WithLock(lock)

	assert.Equal(t, models.DrainResult{Processed: 3}, h.drainer.Drain(ctx))
	assert.Equal(t, 3, lock.extended)
	assert.Equal(t, 1, lock.released)
}

func TestDrainStopsWhenLeaseIsLost(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seedBoth(t, "pharmacy-a", stockItem("item-1", "Amoxicillin 250mg", 10))
	for i := 0; i < 3; i++ {
		_, err := h.svc.SubmitAdjust(ctx, "pharmacy-a", "item-1", models.AdjustStockPayload{Delta: 1})
		require.NoError(t, err)
	}

	lock := &fakeLock{lostAfter: 1}
	h.drainer.WithLock(lock)

	assert.Equal(t, models.DrainResult{Processed: 1}, h.drainer.Drain(ctx))
	assert.Equal(t, 1, h.remote.writes)
	assert.Equal(t, 11, h.remote.quantity("pharmacy-a", "item-1"))

	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
