// Package store is the persistent-store boundary (C1): durable,
// transactional storage for inventory items, sessions, and scan
// cursors, with serializable semantics for the multi-row updates C3,
// C4, and C5 each need inside a single transaction.
package store

import (
	"context"
	"errors"
	"time"

	"dropmint/internal/model"
)

// Sentinel errors surfaced to callers per the taxonomy in spec §7.
var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrReservationRace       = errors.New("reservation race")
	ErrAmountCollision       = errors.New("amount_due collision")
	ErrSessionNotFound       = errors.New("session not found")
)

// ProgressStats backs GET /mint-progress.
type ProgressStats struct {
	Total     int
	Minted    int
	Reserved  int
	Available int
}

// Tx is the set of operations available inside a single transaction.
// Every method either succeeds as part of the enclosing transaction or
// the whole transaction is rolled back by the caller.
type Tx interface {
	// CountAvailable counts unclaimed, unreserved items with id <= maxSupply.
	CountAvailable(ctx context.Context, maxSupply int64) (int, error)

	// NextSessionSequence atomically increments and returns the
	// monotonic session counter (the nextId of spec §4.3 step 2-3).
	NextSessionSequence(ctx context.Context) (int64, error)

	// InsertSession inserts a new pending session row. A unique-index
	// violation on amount_due surfaces as ErrAmountCollision.
	InsertSession(ctx context.Context, s *model.Session) error

	// ReserveRandomItems atomically sets session_ref on a random
	// selection of quantity unclaimed, unreserved items with
	// id <= maxSupply, and returns how many rows were affected.
	ReserveRandomItems(ctx context.Context, sessionID string, quantity int, maxSupply int64) (int, error)

	// ReservedUnclaimedItems returns items with
	// session_ref = sessionID AND claimed = 0 AND id <= maxSupply.
	ReservedUnclaimedItems(ctx context.Context, sessionID string, maxSupply int64) ([]model.Item, error)

	// ClaimItems sets claimed = 1 on the given item ids.
	ClaimItems(ctx context.Context, ids []int64) error

	// ReleaseReservation clears session_ref on sessionID's unclaimed
	// reserved items (used by failure and expiry paths).
	ReleaseReservation(ctx context.Context, sessionID string) error

	// GetSessionForUpdate reads a session row, locking it against
	// concurrent writers within the transaction.
	GetSessionForUpdate(ctx context.Context, sessionID string) (*model.Session, error)

	// UpdateSession persists a session's mutable fields.
	UpdateSession(ctx context.Context, s *model.Session) error

	// DeleteSession removes a session row (used by expiry/sweep).
	DeleteSession(ctx context.Context, sessionID string) error

	// GetCursor reads a named scan cursor. found is false if absent.
	GetCursor(ctx context.Context, name string) (height int64, found bool, err error)

	// SetCursor upserts a named scan cursor.
	SetCursor(ctx context.Context, name string, height int64) error
}

// Store is the process-wide handle: one per process, constructed once,
// shared by every component through this interface.
type Store interface {
	// WithTx runs fn inside a single serializable transaction. Any
	// error returned by fn rolls the transaction back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Progress reports mint/reserve/availability counters for C6.
	Progress(ctx context.Context, maxSupply int64) (ProgressStats, error)

	// GetSession reads a session by id without locking (read path for
	// check-payment-status).
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)

	// LoadPendingIndex rebuilds the observer's in-memory index: every
	// session currently in {pending, payment_pending}, keyed by its
	// 8-decimal amount string (spec §4.4.1).
	LoadPendingIndex(ctx context.Context) (map[string]model.PendingEntry, error)

	// SessionsOlderThan lists sessions in the given status whose
	// reference timestamp (created_at for pending, updated_at for
	// payment_pending) is older than cutoff — the sweeper's query.
	SessionsOlderThan(ctx context.Context, status model.Status, cutoff time.Time) ([]string, error)

	// Close releases the underlying connection(s).
	Close() error
}
