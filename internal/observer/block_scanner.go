package observer

import (
	"context"
	"log"
	"time"

	"dropmint/internal/reservation"
	"dropmint/internal/rpcpool"
	"dropmint/internal/store"
)

const (
	blockScanPeriod    = 120 * time.Second
	blockScanBackfill  = 100
	interBlockPause    = 250 * time.Millisecond
	cursorBlock        = "last_scanned_block"
)

// BlockScanner is the fixed-cadence loop of spec §4.4.2: it walks
// confirmed blocks since the last cursor and completes any session
// whose correlation amount appears in a transaction's outputs.
type BlockScanner struct {
	store   store.Store
	client  *ledgerClient
	engine  *reservation.Engine
	address string
}

// NewBlockScanner constructs a scanner over pool, driving engine's
// completions for payments to address.
func NewBlockScanner(s store.Store, pool *rpcpool.Pool, engine *reservation.Engine, address string) *BlockScanner {
	return &BlockScanner{store: s, client: &ledgerClient{pool: pool}, engine: engine, address: address}
}

// Run blocks until ctx is cancelled, scanning once every blockScanPeriod.
func (b *BlockScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(blockScanPeriod)
	defer ticker.Stop()

	for {
		b.cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *BlockScanner) cycle(ctx context.Context) {
	index, err := loadPendingIndex(ctx, b.store)
	if err != nil {
		log.Printf("[observer:block] load pending index: %v", err)
		return
	}
	if len(index) == 0 {
		return
	}

	tip, ok := b.client.tipHeight(ctx)
	if !ok {
		log.Printf("[observer:block] tip height unavailable, skipping cycle")
		return
	}

	cursor, found, err := b.loadCursor(ctx)
	if err != nil {
		log.Printf("[observer:block] load cursor: %v", err)
		return
	}
	if !found {
		cursor = tip - blockScanBackfill
	}

	for h := cursor + 1; h <= tip; h++ {
		blk, ok := b.client.blockAt(ctx, h)
		if !ok {
			log.Printf("[observer:block] fetch block %d failed, aborting cycle", h)
			return
		}

		for _, tx := range blk.Tx {
			for _, amountKey := range matchOutputs(tx, b.address) {
				entry, hit := index[amountKey]
				if !hit {
					continue
				}
				if err := b.engine.AssignAndComplete(ctx, entry.SessionID, tx.TxID); err != nil {
					log.Printf("[observer:block] assign_and_complete(%s): %v", entry.SessionID, err)
					continue
				}
				delete(index, amountKey)
			}
		}

		if err := b.persistCursor(ctx, h); err != nil {
			log.Printf("[observer:block] persist cursor at %d: %v", h, err)
			return
		}

		if h < tip {
			time.Sleep(interBlockPause)
		}
	}
}

func (b *BlockScanner) loadCursor(ctx context.Context) (int64, bool, error) {
	var height int64
	var found bool
	err := b.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		height, found, err = tx.GetCursor(ctx, cursorBlock)
		return err
	})
	return height, found, err
}

func (b *BlockScanner) persistCursor(ctx context.Context, height int64) error {
	return b.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetCursor(ctx, cursorBlock, height)
	})
}
