// Package sweeper is the sweep scheduler (C5): the only component
// that releases a reservation without an observed payment, run on a
// fixed timer against two asymmetric timeouts.
package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"dropmint/internal/model"
	"dropmint/internal/reservation"
	"dropmint/internal/store"
)

// Config holds the sweep interval and the two status-specific timeouts.
type Config struct {
	// PendingTimeout is how long a pending session may sit unpaid
	// before its reservation is released. Default: 10 minutes.
	PendingTimeout time.Duration

	// PaymentPendingTimeout is how long a payment_pending session may
	// sit unconfirmed before its reservation is released. Default: 24h.
	PaymentPendingTimeout time.Duration

	// SweepInterval is how often the sweep runs. Default: 60 seconds.
	SweepInterval time.Duration
}

// DefaultConfig returns the timeouts named in spec §4.5.
func DefaultConfig() Config {
	return Config{
		PendingTimeout:        10 * time.Minute,
		PaymentPendingTimeout: 24 * time.Hour,
		SweepInterval:         60 * time.Second,
	}
}

// Scheduler runs periodic expiry of stale sessions.
type Scheduler struct {
	store  store.Store
	engine *reservation.Engine
	config Config

	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// New creates a sweep scheduler over engine, using s to find stale sessions.
func New(s store.Store, engine *reservation.Engine, config Config) *Scheduler {
	if config.SweepInterval == 0 {
		config = DefaultConfig()
	}
	return &Scheduler{store: s, engine: engine, config: config, stopCh: make(chan struct{})}
}

// Start begins the sweep loop in a background goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.SweepInterval)
	s.mu.Unlock()

	log.Printf("[sweeper] started - interval: %v, pending timeout: %v, payment_pending timeout: %v",
		s.config.SweepInterval, s.config.PendingTimeout, s.config.PaymentPendingTimeout)

	go s.run()
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stopCh:
			log.Printf("[sweeper] stopped")
			return
		}
	}
}

// Stop halts the sweep loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow sweeps immediately, releasing every stale session it finds.
func (s *Scheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	now := time.Now()
	s.sweepStatus(ctx, model.StatusPending, now.Add(-s.config.PendingTimeout))
	s.sweepStatus(ctx, model.StatusPaymentPending, now.Add(-s.config.PaymentPendingTimeout))
}

func (s *Scheduler) sweepStatus(ctx context.Context, status model.Status, cutoff time.Time) {
	ids, err := s.store.SessionsOlderThan(ctx, status, cutoff)
	if err != nil {
		log.Printf("[sweeper] list stale %s sessions: %v", status, err)
		return
	}
	if len(ids) == 0 {
		return
	}

	swept := 0
	for _, id := range ids {
		if err := s.engine.Expire(ctx, id); err != nil {
			log.Printf("[sweeper] expire %s: %v", id, err)
			continue
		}
		swept++
	}
	log.Printf("[sweeper] released %s stale %s session(s)", humanize.Comma(int64(swept)), status)
}
