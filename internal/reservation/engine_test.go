package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropmint/internal/model"
	"dropmint/internal/store"
	"dropmint/pkg/money"
)

// fakeStore is a minimal in-memory Store good enough to exercise the
// engine's transaction boundaries without a real database.
type fakeStore struct {
	items    map[int64]*model.Item
	sessions map[string]*model.Session
	seq      int64
}

func newFakeStore(supply int64) *fakeStore {
	items := make(map[int64]*model.Item, supply)
	for i := int64(1); i <= supply; i++ {
		items[i] = &model.Item{ID: i, ContentRef: "item-" + money.FromUnits(i).String()}
	}
	return &fakeStore{items: items, sessions: make(map[string]*model.Session)}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return fn(ctx, &fakeTx{f})
}

func (f *fakeStore) Progress(ctx context.Context, maxSupply int64) (store.ProgressStats, error) {
	return store.ProgressStats{}, nil
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	copy := *s
	return &copy, nil
}

func (f *fakeStore) LoadPendingIndex(ctx context.Context) (map[string]model.PendingEntry, error) {
	return nil, nil
}

func (f *fakeStore) SessionsOlderThan(ctx context.Context, status model.Status, cutoff time.Time) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

type fakeTx struct{ f *fakeStore }

func (t *fakeTx) CountAvailable(ctx context.Context, maxSupply int64) (int, error) {
	n := 0
	for _, it := range t.f.items {
		if it.ID <= maxSupply && !it.Claimed && it.SessionRef == nil {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) NextSessionSequence(ctx context.Context) (int64, error) {
	t.f.seq++
	return t.f.seq, nil
}

func (t *fakeTx) InsertSession(ctx context.Context, s *model.Session) error {
	for _, existing := range t.f.sessions {
		if existing.AmountDue == s.AmountDue {
			return store.ErrAmountCollision
		}
	}
	clone := *s
	t.f.sessions[s.SessionID] = &clone
	return nil
}

func (t *fakeTx) ReserveRandomItems(ctx context.Context, sessionID string, quantity int, maxSupply int64) (int, error) {
	n := 0
	for _, it := range t.f.items {
		if n >= quantity {
			break
		}
		if it.ID <= maxSupply && !it.Claimed && it.SessionRef == nil {
			ref := sessionID
			it.SessionRef = &ref
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) ReservedUnclaimedItems(ctx context.Context, sessionID string, maxSupply int64) ([]model.Item, error) {
	var out []model.Item
	for _, it := range t.f.items {
		if it.SessionRef != nil && *it.SessionRef == sessionID && !it.Claimed && it.ID <= maxSupply {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (t *fakeTx) ClaimItems(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		t.f.items[id].Claimed = true
	}
	return nil
}

func (t *fakeTx) ReleaseReservation(ctx context.Context, sessionID string) error {
	for _, it := range t.f.items {
		if it.SessionRef != nil && *it.SessionRef == sessionID && !it.Claimed {
			it.SessionRef = nil
		}
	}
	return nil
}

func (t *fakeTx) GetSessionForUpdate(ctx context.Context, sessionID string) (*model.Session, error) {
	s, ok := t.f.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return s, nil
}

func (t *fakeTx) UpdateSession(ctx context.Context, s *model.Session) error {
	t.f.sessions[s.SessionID] = s
	return nil
}

func (t *fakeTx) DeleteSession(ctx context.Context, sessionID string) error {
	delete(t.f.sessions, sessionID)
	return nil
}

func (t *fakeTx) GetCursor(ctx context.Context, name string) (int64, bool, error) { return 0, false, nil }
func (t *fakeTx) SetCursor(ctx context.Context, name string, height int64) error  { return nil }

func TestCreateIntentReservesAndReturnsDistinctAmounts(t *testing.T) {
	fs := newFakeStore(100)
	engine := New(fs, money.FromUnits(500000), 100, "bc1qexampleaddress")

	intent1, err := engine.CreateIntent(context.Background(), 2)
	require.NoError(t, err)
	intent2, err := engine.CreateIntent(context.Background(), 2)
	require.NoError(t, err)

	assert.NotEqual(t, intent1.AmountDue, intent2.AmountDue)
	assert.Equal(t, "bc1qexampleaddress", intent1.Address)

	reserved := 0
	for _, it := range fs.items {
		if it.SessionRef != nil {
			reserved++
		}
	}
	assert.Equal(t, 4, reserved)
}

func TestCreateIntentRejectsOutOfRangeQuantity(t *testing.T) {
	fs := newFakeStore(100)
	engine := New(fs, money.FromUnits(500000), 100, "addr")

	_, err := engine.CreateIntent(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = engine.CreateIntent(context.Background(), 21)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCreateIntentFailsWhenInventoryInsufficient(t *testing.T) {
	fs := newFakeStore(1)
	engine := New(fs, money.FromUnits(500000), 1, "addr")

	_, err := engine.CreateIntent(context.Background(), 2)
	assert.ErrorIs(t, err, store.ErrInsufficientInventory)
}

func TestAssignAndCompleteClaimsReservedItems(t *testing.T) {
	fs := newFakeStore(10)
	engine := New(fs, money.FromUnits(500000), 10, "addr")

	intent, err := engine.CreateIntent(context.Background(), 3)
	require.NoError(t, err)

	require.NoError(t, engine.AssignAndComplete(context.Background(), intent.SessionID, "txid123"))

	session := fs.sessions[intent.SessionID]
	assert.Equal(t, model.StatusComplete, session.Status)
	assert.Len(t, session.AssignedRefs, 3)
	require.NotNil(t, session.TxID)
	assert.Equal(t, "txid123", *session.TxID)
}

func TestAssignAndCompleteIsIdempotent(t *testing.T) {
	fs := newFakeStore(10)
	engine := New(fs, money.FromUnits(500000), 10, "addr")

	intent, err := engine.CreateIntent(context.Background(), 3)
	require.NoError(t, err)

	require.NoError(t, engine.AssignAndComplete(context.Background(), intent.SessionID, "txid123"))
	require.NoError(t, engine.AssignAndComplete(context.Background(), intent.SessionID, "txid-replay"))

	session := fs.sessions[intent.SessionID]
	assert.Equal(t, "txid123", *session.TxID, "second call must not re-assign")
}

func TestExpireReleasesReservation(t *testing.T) {
	fs := newFakeStore(10)
	engine := New(fs, money.FromUnits(500000), 10, "addr")

	intent, err := engine.CreateIntent(context.Background(), 2)
	require.NoError(t, err)

	require.NoError(t, engine.Expire(context.Background(), intent.SessionID))

	_, exists := fs.sessions[intent.SessionID]
	assert.False(t, exists)

	available := 0
	for _, it := range fs.items {
		if it.SessionRef == nil && !it.Claimed {
			available++
		}
	}
	assert.Equal(t, 10, available)
}

func TestMarkPaymentPendingNoOpsOutsidePending(t *testing.T) {
	fs := newFakeStore(10)
	engine := New(fs, money.FromUnits(500000), 10, "addr")

	intent, err := engine.CreateIntent(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, engine.AssignAndComplete(context.Background(), intent.SessionID, "txid123"))

	require.NoError(t, engine.MarkPaymentPending(context.Background(), intent.SessionID, "txid-other"))

	session := fs.sessions[intent.SessionID]
	assert.Equal(t, model.StatusComplete, session.Status, "mark_payment_pending must not disturb a completed session")
}
