package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"inventory-sync/internal/connectivity"
	"inventory-sync/internal/models"

	"github.com/stretchr/testify/assert"
)

type scriptedDrainer struct {
	mu      sync.Mutex
	calls   int
	results []models.DrainResult
}

func (d *scriptedDrainer) Drain(ctx context.Context) models.DrainResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if len(d.results) == 0 {
		return models.DrainResult{}
	}
	result := d.results[0]
	d.results = d.results[1:]
	return result
}

func (d *scriptedDrainer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func startWorker(t *testing.T, w *SyncWorker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWorkerDrainsOnStartWhenOnline(t *testing.T) {
	drainer := &scriptedDrainer{}
	w := NewSyncWorker(drainer, connectivity.NewManual(true), time.Hour, time.Hour)
	startWorker(t, w)

	assert.Eventually(t, func() bool { return drainer.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorkerDrainsOnReconnect(t *testing.T) {
	drainer := &scriptedDrainer{}
	observer := connectivity.NewManual(false)
	w := NewSyncWorker(drainer, observer, time.Hour, time.Hour)
	startWorker(t, w)

	assert.Never(t, func() bool { return drainer.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	observer.SetOnline(true)
	assert.Eventually(t, func() bool { return drainer.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorkerIgnoresTriggerWhileOffline(t *testing.T) {
	drainer := &scriptedDrainer{}
	w := NewSyncWorker(drainer, connectivity.NewManual(false), time.Hour, time.Hour)
	startWorker(t, w)

	w.Trigger()
	assert.Never(t, func() bool { return drainer.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestWorkerTrigger(t *testing.T) {
	drainer := &scriptedDrainer{}
	w := NewSyncWorker(drainer, connectivity.NewManual(true), time.Hour, time.Hour)
	startWorker(t, w)
	assert.Eventually(t, func() bool { return drainer.count() == 1 }, time.Second, 5*time.Millisecond)

	w.Trigger()
	assert.Eventually(t, func() bool { return drainer.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWorkerRetriesPartialDrainsUntilClean(t *testing.T) {
	drainer := &scriptedDrainer{results: []models.DrainResult{
		{Processed: 1, Failures: 2},
		{Failures: 2},
		{Processed: 2},
	}}
	w := NewSyncWorker(drainer, connectivity.NewManual(true), 5*time.Millisecond, 20*time.Millisecond)
	startWorker(t, w)

	assert.Eventually(t, func() bool { return drainer.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	// a clean drain stops the retry timer
	assert.Never(t, func() bool { return drainer.count() > 3 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestWorkerManualDrainSchedulesRetry(t *testing.T) {
	drainer := &scriptedDrainer{results: []models.DrainResult{
		{},
		{Processed: 1, Failures: 1},
		{Processed: 1},
	}}
	w := NewSyncWorker(drainer, connectivity.NewManual(true), 5*time.Millisecond, 20*time.Millisecond)
	startWorker(t, w)
	assert.Eventually(t, func() bool { return drainer.count() == 1 }, time.Second, 5*time.Millisecond)

	result := w.DrainNow(context.Background())
	assert.Equal(t, models.DrainResult{Processed: 1, Failures: 1}, result)

	// the failure is retried on the worker's backoff, without another manual call
	assert.Eventually(t, func() bool { return drainer.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return drainer.count() > 3 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestWorkerManualDrainWithoutLoop(t *testing.T) {
	drainer := &scriptedDrainer{results: []models.DrainResult{{Failures: 1}, {Processed: 2}}}
	w := NewSyncWorker(drainer, connectivity.NewManual(true), time.Hour, time.Hour)

	// results are handed off without blocking when nothing is listening
	assert.Equal(t, models.DrainResult{Failures: 1}, w.DrainNow(context.Background()))
	assert.Equal(t, models.DrainResult{Processed: 2}, w.DrainNow(context.Background()))
	assert.Equal(t, 2, drainer.count())
}

func TestWorkerStop(t *testing.T) {
	drainer := &scriptedDrainer{}
	w := NewSyncWorker(drainer, connectivity.NewManual(false), time.Hour, time.Hour)

	done := make(chan error)
	go func() { done <- w.Start(context.Background()) }()

	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
