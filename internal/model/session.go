package model

import (
	"time"

	"dropmint/pkg/money"
)

// Status is the session state machine's tag. Complete, Failed, and
// Expired are terminal.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPaymentPending Status = "payment_pending"
	StatusComplete       Status = "complete"
	StatusFailed         Status = "failed"
	StatusExpired        Status = "expired"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Session is a single buyer's attempt to purchase a batch.
type Session struct {
	SessionID    string
	Quantity     int
	AmountDue    money.Amount
	Status       Status
	TxID         *string
	AssignedRefs []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PendingEntry is the value half of the in-memory pending index
// (spec §4.4.1): amount string -> {session_id, quantity}.
type PendingEntry struct {
	SessionID string
	Quantity  int
}
