package observer

import (
	"context"

	"dropmint/internal/model"
	"dropmint/internal/store"
)

// pendingIndex is the in-memory map described in spec §4.4.1: amount
// string -> {session_id, quantity}, rebuilt from the store at the
// start of every scan cycle. It is private to whichever loop built it;
// staleness between cycles is tolerated because assignment re-checks
// the store under a transaction.
type pendingIndex map[string]model.PendingEntry

func loadPendingIndex(ctx context.Context, s store.Store) (pendingIndex, error) {
	entries, err := s.LoadPendingIndex(ctx)
	if err != nil {
		return nil, err
	}
	return pendingIndex(entries), nil
}
