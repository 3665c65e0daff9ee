// Package connectivity reports whether the remote inventory service is reachable and announces
// transitions. Drains and the read path consume it through the Observer interface only.
package connectivity

import (
	"context"
	"sync"
	"time"

	"inventory-sync/internal/util"

	"go.uber.org/zap"
)

// Observer is the injected connectivity capability
type Observer interface {
	// Online reports the last known state
	Online() bool
	// Subscribe returns a channel receiving the new state on every transition.
	// Slow readers only ever see the latest state.
	Subscribe() <-chan bool
}

type broadcaster struct {
	mu     sync.RWMutex
	online bool
	subs   []chan bool
}

func (b *broadcaster) Online() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.online
}

func (b *broadcaster) Subscribe() <-chan bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan bool, 1)
	b.subs = append(b.subs, ch)
	return ch
}

// set stores the state and reports whether it changed
func (b *broadcaster) set(online bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.online == online {
		return false
	}
	b.online = online
	util.ConnectivityOnline.Set(boolToFloat(online))

	for _, ch := range b.subs {
		select {
		case ch <- online:
		default:
			// replace the unread value with the latest one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
	return true
}

// Manual is an Observer whose state is set explicitly. Used in tests and when the host
// platform pushes online/offline notifications itself.
type Manual struct {
	broadcaster
}

// NewManual creates a manual observer with the given initial state
func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	return m
}

// SetOnline updates the state, notifying subscribers on change
func (m *Manual) SetOnline(online bool) {
	m.set(online)
}

// Pinger checks reachability of the remote service
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober is an Observer that polls a Pinger on a fixed interval
type Prober struct {
	broadcaster
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	stop     chan struct{}
	once     sync.Once
}

// NewProber creates a prober. The state is offline until the first successful probe.
func NewProber(pinger Pinger, interval, timeout time.Duration) *Prober {
	return &Prober{
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		logger:   util.GetLogger(),
		stop:     make(chan struct{}),
	}
}

// Start probes immediately and then on every tick until ctx is done or Stop is called
func (p *Prober) Start(ctx context.Context) {
	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// Stop ends the probing loop
func (p *Prober) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// ProbeOnce runs a single reachability check and returns the resulting state
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil

	if p.set(online) {
		if online {
			p.logger.Info("Remote inventory service reachable")
		} else {
			p.logger.Warn("Remote inventory service unreachable, switching to offline mode", zap.Error(err))
		}
	}
	return online
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
