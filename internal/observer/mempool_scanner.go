package observer

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"dropmint/internal/reservation"
	"dropmint/internal/rpcpool"
	"dropmint/internal/store"
)

const (
	minCapacityToScan   = 5000
	maxCandidatesPerRun = 150
	candidateDivisor    = 20
	interTxPause        = 100 * time.Millisecond
	recentlyCheckedSize = 500
)

// MempoolScanner is the adaptive-cadence loop of spec §4.4.3: it
// samples unconfirmed transactions and marks sessions payment_pending
// as soon as their correlation amount shows up, without spending the
// confirmation budget that the block scanner needs.
type MempoolScanner struct {
	store   store.Store
	pool    *rpcpool.Pool
	client  *ledgerClient
	engine  *reservation.Engine
	address string
	cadence *cadence

	recentlyChecked *expirable.LRU[string, struct{}]
}

// NewMempoolScanner constructs a scanner with a recently_checked set
// bounded to the last 500 txids (no TTL — size eviction only).
func NewMempoolScanner(s store.Store, pool *rpcpool.Pool, engine *reservation.Engine, address string) *MempoolScanner {
	return &MempoolScanner{
		store:           s,
		pool:            pool,
		client:          &ledgerClient{pool: pool},
		engine:          engine,
		address:         address,
		cadence:         newCadence(),
		recentlyChecked: expirable.NewLRU[string, struct{}](recentlyCheckedSize, nil, 0),
	}
}

// Run blocks until ctx is cancelled, re-reading m.cadence.current()
// after every cycle so the sleep adapts to RPC utilization.
func (m *MempoolScanner) Run(ctx context.Context) {
	for {
		m.cycle(ctx)

		remaining, enabledCount := m.pool.Capacity()
		m.cadence.adjust(remaining, enabledCount, rpcpool.DefaultDailyLimit)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cadence.current()):
		}
	}
}

func (m *MempoolScanner) cycle(ctx context.Context) {
	remaining, _ := m.pool.Capacity()
	if remaining < minCapacityToScan {
		return
	}

	index, err := loadPendingIndex(ctx, m.store)
	if err != nil {
		log.Printf("[observer:mempool] load pending index: %v", err)
		return
	}
	if len(index) == 0 {
		return
	}

	txids, ok := m.client.rawMempool(ctx)
	if !ok {
		log.Printf("[observer:mempool] getrawmempool unavailable, skipping cycle")
		return
	}

	candidates := m.filterAndCap(txids, remaining)

	for _, txid := range candidates {
		tx, ok := m.client.transaction(ctx, txid)
		if ok {
			for _, amountKey := range matchOutputs(*tx, m.address) {
				entry, hit := index[amountKey]
				if !hit {
					continue
				}
				if err := m.engine.MarkPaymentPending(ctx, entry.SessionID, txid); err != nil {
					log.Printf("[observer:mempool] mark_payment_pending(%s): %v", entry.SessionID, err)
				}
			}
		}
		m.recentlyChecked.Add(txid, struct{}{})
		time.Sleep(interTxPause)
	}
}

// filterAndCap drops already-checked txids and caps the result to
// min(150, floor(remaining/20)) per spec §4.4.3 step 2.
func (m *MempoolScanner) filterAndCap(txids []string, remaining int64) []string {
	limit := int(math.Min(float64(maxCandidatesPerRun), math.Floor(float64(remaining)/candidateDivisor)))
	if limit <= 0 {
		return nil
	}

	fresh := make([]string, 0, limit)
	for _, txid := range txids {
		if _, seen := m.recentlyChecked.Get(txid); seen {
			continue
		}
		fresh = append(fresh, txid)
		if len(fresh) >= limit {
			break
		}
	}
	return fresh
}
