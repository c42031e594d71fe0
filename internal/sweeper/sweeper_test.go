package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropmint/internal/model"
	"dropmint/internal/reservation"
	"dropmint/internal/store"
	"dropmint/pkg/money"
)

// stubStore wraps a handful of hand-seeded sessions and items, enough
// to exercise RunNow's two sweep passes without a real database.
type stubStore struct {
	sessions map[string]*model.Session
	items    map[int64]*model.Item
}

func newStubStore() *stubStore {
	return &stubStore{sessions: make(map[string]*model.Session), items: make(map[int64]*model.Item)}
}

func (s *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return fn(ctx, &stubTx{s})
}
func (s *stubStore) Progress(ctx context.Context, maxSupply int64) (store.ProgressStats, error) {
	return store.ProgressStats{}, nil
}
func (s *stubStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return s.sessions[id], nil
}
func (s *stubStore) LoadPendingIndex(ctx context.Context) (map[string]model.PendingEntry, error) {
	return nil, nil
}
func (s *stubStore) SessionsOlderThan(ctx context.Context, status model.Status, cutoff time.Time) ([]string, error) {
	var ids []string
	for id, sess := range s.sessions {
		if sess.Status != status {
			continue
		}
		ref := sess.CreatedAt
		if status == model.StatusPaymentPending {
			ref = sess.UpdatedAt
		}
		if ref.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
func (s *stubStore) Close() error { return nil }

type stubTx struct{ s *stubStore }

func (t *stubTx) CountAvailable(ctx context.Context, maxSupply int64) (int, error) { return 0, nil }
func (t *stubTx) NextSessionSequence(ctx context.Context) (int64, error)           { return 0, nil }
func (t *stubTx) InsertSession(ctx context.Context, s *model.Session) error        { return nil }
func (t *stubTx) ReserveRandomItems(ctx context.Context, sessionID string, quantity int, maxSupply int64) (int, error) {
	return 0, nil
}
func (t *stubTx) ReservedUnclaimedItems(ctx context.Context, sessionID string, maxSupply int64) ([]model.Item, error) {
	return nil, nil
}
func (t *stubTx) ClaimItems(ctx context.Context, ids []int64) error { return nil }
func (t *stubTx) ReleaseReservation(ctx context.Context, sessionID string) error {
	for _, it := range t.s.items {
		if it.SessionRef != nil && *it.SessionRef == sessionID {
			it.SessionRef = nil
		}
	}
	return nil
}
func (t *stubTx) GetSessionForUpdate(ctx context.Context, sessionID string) (*model.Session, error) {
	s, ok := t.s.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return s, nil
}
func (t *stubTx) UpdateSession(ctx context.Context, s *model.Session) error {
	t.s.sessions[s.SessionID] = s
	return nil
}
func (t *stubTx) DeleteSession(ctx context.Context, sessionID string) error {
	delete(t.s.sessions, sessionID)
	return nil
}
func (t *stubTx) GetCursor(ctx context.Context, name string) (int64, bool, error) { return 0, false, nil }
func (t *stubTx) SetCursor(ctx context.Context, name string, height int64) error  { return nil }

func TestRunNowSweepsBothStatuses(t *testing.T) {
	s := newStubStore()
	now := time.Now()

	stalePendingID := "stale-pending"
	s.sessions[stalePendingID] = &model.Session{
		SessionID: stalePendingID, Status: model.StatusPending,
		AmountDue: money.FromUnits(1), CreatedAt: now.Add(-20 * time.Minute), UpdatedAt: now.Add(-20 * time.Minute),
	}
	s.items[1] = &model.Item{ID: 1, SessionRef: &stalePendingID}

	freshPendingID := "fresh-pending"
	s.sessions[freshPendingID] = &model.Session{
		SessionID: freshPendingID, Status: model.StatusPending,
		AmountDue: money.FromUnits(2), CreatedAt: now, UpdatedAt: now,
	}

	staleAwaitingID := "stale-awaiting"
	s.sessions[staleAwaitingID] = &model.Session{
		SessionID: staleAwaitingID, Status: model.StatusPaymentPending,
		AmountDue: money.FromUnits(3), CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-25 * time.Hour),
	}

	completeID := "complete"
	s.sessions[completeID] = &model.Session{
		SessionID: completeID, Status: model.StatusComplete,
		AmountDue: money.FromUnits(4), CreatedAt: now.Add(-100 * time.Hour), UpdatedAt: now.Add(-100 * time.Hour),
	}

	engine := reservation.New(s, money.FromUnits(500000), 1000, "addr")
	sched := New(s, engine, Config{
		PendingTimeout:        10 * time.Minute,
		PaymentPendingTimeout: 24 * time.Hour,
		SweepInterval:         time.Hour,
	})

	sched.RunNow()

	_, stalePendingExists := s.sessions[stalePendingID]
	assert.False(t, stalePendingExists, "stale pending session should be swept")

	_, freshPendingExists := s.sessions[freshPendingID]
	assert.True(t, freshPendingExists, "fresh pending session should survive")

	_, staleAwaitingExists := s.sessions[staleAwaitingID]
	assert.False(t, staleAwaitingExists, "stale payment_pending session should be swept")

	_, completeExists := s.sessions[completeID]
	require.True(t, completeExists, "complete sessions are never touched")

	assert.Nil(t, s.items[1].SessionRef, "swept session's reservation must be released")
}
