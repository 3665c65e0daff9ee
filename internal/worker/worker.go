package worker

import (
	"context"
	"sync"
	"time"

	"inventory-sync/internal/connectivity"
	"inventory-sync/internal/models"
	"inventory-sync/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Drainer replays the pending write log. Implemented by service.DrainCoordinator.
type Drainer interface {
	Drain(ctx context.Context) models.DrainResult
}

// SyncWorker drains the pending write log in the background: on every offline to online
// transition, on explicit triggers, and on a backoff timer while replays keep failing.
// Manual drains run through DrainNow so their outcome feeds the same retry schedule.
type SyncWorker struct {
	drainer  Drainer
	observer connectivity.Observer
	backoff  *backoff.ExponentialBackOff
	trigger  chan struct{}
	results  chan models.DrainResult
	stop     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewSyncWorker creates a new sync worker. Retry delays grow from initial up to maxDelay and never
// give up; a clean drain resets them.
func NewSyncWorker(drainer Drainer, observer connectivity.Observer, initial, maxDelay time.Duration) *SyncWorker {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return &SyncWorker{
		drainer:  drainer,
		observer: observer,
		backoff:  b,
		trigger:  make(chan struct{}, 1),
		results:  make(chan models.DrainResult, 1),
		stop:     make(chan struct{}),
		logger:   util.GetLogger(),
	}
}

// Trigger requests a drain. Requests made while one is queued are coalesced.
func (w *SyncWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// DrainNow drains immediately on the caller's goroutine and hands the result to the worker loop,
// which schedules or cancels a retry exactly as for its own drains.
func (w *SyncWorker) DrainNow(ctx context.Context) models.DrainResult {
	result := w.drainer.Drain(ctx)
	if result.Skipped {
		return result
	}

	// only the latest manual result matters to the schedule
	select {
	case <-w.results:
	default:
	}
	select {
	case w.results <- result:
	default:
	}
	return result
}

// Start runs the worker until ctx is cancelled or Stop is called
func (w *SyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sync worker")

	updates := w.observer.Subscribe()
	retry := time.NewTimer(0)
	if !retry.Stop() {
		<-retry.C
	}
	defer retry.Stop()

	schedule := func(result models.DrainResult) {
		if result.Skipped {
			return
		}
		if !retry.Stop() {
			select {
			case <-retry.C:
			default:
			}
		}
		if result.Failures == 0 {
			w.backoff.Reset()
			return
		}
		delay := w.backoff.NextBackOff()
		w.logger.Info("Scheduling drain retry",
			zap.Int("failures", result.Failures),
			zap.Duration("delay", delay))
		retry.Reset(delay)
	}

	// intents may have survived a restart
	if w.observer.Online() {
		schedule(w.drain(ctx))
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sync worker stopped", zap.Error(ctx.Err()))
			return nil
		case <-w.stop:
			w.logger.Info("Sync worker stopped")
			return nil
		case online := <-updates:
			if online {
				w.logger.Info("Connectivity restored, draining pending writes")
				schedule(w.drain(ctx))
			}
		case <-w.trigger:
			schedule(w.drain(ctx))
		case result := <-w.results:
			schedule(result)
		case <-retry.C:
			schedule(w.drain(ctx))
		}
	}
}

// Stop stops the worker
func (w *SyncWorker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping sync worker...")
		close(w.stop)
	})
}

func (w *SyncWorker) drain(ctx context.Context) models.DrainResult {
	if !w.observer.Online() {
		return models.DrainResult{Skipped: true}
	}
	return w.drainer.Drain(ctx)
}
