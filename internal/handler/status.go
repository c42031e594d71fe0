package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dropmint/internal/model"
	"dropmint/internal/store"
	"dropmint/pkg/response"
)

// StatusHandler serves GET /check-payment-status/:sessionId.
type StatusHandler struct {
	store          store.Store
	pendingTimeout time.Duration
}

func NewStatusHandler(s store.Store, pendingTimeout time.Duration) *StatusHandler {
	return &StatusHandler{store: s, pendingTimeout: pendingTimeout}
}

type statusResponse struct {
	Status   string       `json:"status"`
	Message  string       `json:"message,omitempty"`
	TxID     string       `json:"txid,omitempty"`
	Items    []statusItem `json:"items,omitempty"`
	Quantity int          `json:"quantity,omitempty"`
}

type statusItem struct {
	CID string `json:"cid"`
}

// CheckPaymentStatus handles GET /check-payment-status/:sessionId.
func (h *StatusHandler) CheckPaymentStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			response.OK(w, statusResponse{Status: "error", Message: "Invalid session."})
			return
		}
		log.Printf("[handler:status] get session %s: %v", sessionID, err)
		response.OK(w, statusResponse{Status: "error", Message: "An unexpected error occurred."})
		return
	}

	switch session.Status {
	case model.StatusPending:
		if time.Since(session.CreatedAt) > h.pendingTimeout {
			response.OK(w, statusResponse{Status: "expired", Message: "This payment session has expired."})
			return
		}
		response.OK(w, statusResponse{Status: "pending"})

	case model.StatusPaymentPending:
		txid := ""
		if session.TxID != nil {
			txid = *session.TxID
		}
		response.OK(w, statusResponse{Status: "payment_pending", Message: "Payment detected, awaiting confirmation.", TxID: txid})

	case model.StatusComplete:
		items := make([]statusItem, 0, len(session.AssignedRefs))
		for _, ref := range session.AssignedRefs {
			items = append(items, statusItem{CID: ref})
		}
		response.OK(w, statusResponse{Status: "complete", Items: items, Quantity: session.Quantity})

	case model.StatusExpired:
		response.OK(w, statusResponse{Status: "expired", Message: "This payment session has expired."})

	case model.StatusFailed:
		response.OK(w, statusResponse{Status: "error", Message: "This payment could not be completed."})

	default:
		response.OK(w, statusResponse{Status: "error", Message: "Invalid session."})
	}
}
