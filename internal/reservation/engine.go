// Package reservation is the reservation engine (C3): the only
// component that creates sessions, reserves inventory against them,
// and drives their state machine to completion, failure, or expiry.
package reservation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"dropmint/internal/model"
	"dropmint/internal/store"
	"dropmint/pkg/money"
)

var ErrInvalidQuantity = errors.New("quantity must be between 1 and 20")

// Intent is the return value of CreateIntent: what the client needs to
// construct the payment they're being asked to make.
type Intent struct {
	SessionID string
	AmountDue money.Amount
	Address   string
}

// Engine wires the persistent store to the purchase, payment, and
// expiry transitions of spec §4.3.
type Engine struct {
	store        store.Store
	pricePerItem money.Amount
	maxSupply    int64
	address      string
	now          func() time.Time
}

// New constructs an Engine against s. pricePerItem is the per-unit
// price in base units; maxSupply bounds which item ids are eligible
// for reservation; address is the single receiving address the ledger
// observer watches.
func New(s store.Store, pricePerItem money.Amount, maxSupply int64, address string) *Engine {
	return &Engine{store: s, pricePerItem: pricePerItem, maxSupply: maxSupply, address: address, now: time.Now}
}

// Address returns the receiving address quoted to every buyer.
func (e *Engine) Address() string { return e.address }

// CreateIntent reserves quantity items and returns the amount the
// buyer must pay to claim them.
func (e *Engine) CreateIntent(ctx context.Context, quantity int) (*Intent, error) {
	if quantity < 1 || quantity > 20 {
		return nil, ErrInvalidQuantity
	}

	sessionID, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	var intent Intent
	err = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		available, err := tx.CountAvailable(ctx, e.maxSupply)
		if err != nil {
			return err
		}
		if available < quantity {
			return store.ErrInsufficientInventory
		}

		nextID, err := tx.NextSessionSequence(ctx)
		if err != nil {
			return err
		}

		amountDue := e.pricePerItem.Multiply(int64(quantity)).Add(money.FromUnits(nextID))

		now := e.now()
		session := &model.Session{
			SessionID: sessionID,
			Quantity:  quantity,
			AmountDue: amountDue,
			Status:    model.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertSession(ctx, session); err != nil {
			return err
		}

		affected, err := tx.ReserveRandomItems(ctx, sessionID, quantity, e.maxSupply)
		if err != nil {
			return err
		}
		if affected != quantity {
			return store.ErrReservationRace
		}

		intent = Intent{SessionID: sessionID, AmountDue: amountDue, Address: e.address}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// AssignAndComplete is invoked by the block scanner after a confirmed
// match: it claims the session's reserved items, or fails the session
// if its reservation no longer holds quantity unclaimed items.
func (e *Engine) AssignAndComplete(ctx context.Context, sessionID, txid string) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status.Terminal() {
			return nil // idempotent: already resolved, nothing to do
		}

		items, err := tx.ReservedUnclaimedItems(ctx, sessionID, e.maxSupply)
		if err != nil {
			return err
		}

		if len(items) < session.Quantity {
			if err := tx.ReleaseReservation(ctx, sessionID); err != nil {
				return err
			}
			session.Status = model.StatusFailed
			session.UpdatedAt = e.now()
			return tx.UpdateSession(ctx, session)
		}

		ids := make([]int64, 0, len(items))
		refs := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ID)
			refs = append(refs, it.ContentRef)
		}
		if err := tx.ClaimItems(ctx, ids); err != nil {
			return err
		}

		session.Status = model.StatusComplete
		session.TxID = &txid
		session.AssignedRefs = refs
		session.UpdatedAt = e.now()
		return tx.UpdateSession(ctx, session)
	})
}

// MarkPaymentPending is invoked by the mempool scanner on an
// unconfirmed match. It is a no-op unless the session is still pending.
func (e *Engine) MarkPaymentPending(ctx context.Context, sessionID, txid string) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != model.StatusPending {
			return nil
		}
		session.Status = model.StatusPaymentPending
		session.TxID = &txid
		session.UpdatedAt = e.now()
		return tx.UpdateSession(ctx, session)
	})
}

// Expire is invoked by the sweeper against a stale pending or
// payment_pending session: it releases the reservation and tombstones
// the row. The resulting status recorded before deletion is "expired"
// in both cases; the sweeper's two timeouts are what distinguish them.
func (e *Engine) Expire(ctx context.Context, sessionID string) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		session, err := tx.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if session.Status != model.StatusPending && session.Status != model.StatusPaymentPending {
			return nil
		}
		if err := tx.ReleaseReservation(ctx, sessionID); err != nil {
			return err
		}
		session.Status = model.StatusExpired
		session.UpdatedAt = e.now()
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		return tx.DeleteSession(ctx, sessionID)
	})
}

func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
