package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"dropmint/internal/reservation"
	"dropmint/internal/store"
	"dropmint/pkg/response"
)

// IntentHandler serves POST /create-payment-intent.
type IntentHandler struct {
	engine *reservation.Engine
}

func NewIntentHandler(engine *reservation.Engine) *IntentHandler {
	return &IntentHandler{engine: engine}
}

type createIntentRequest struct {
	Quantity int `json:"quantity"`
}

type createIntentResponse struct {
	Success        bool   `json:"success"`
	SessionID      string `json:"sessionId"`
	Amount         string `json:"amount"`
	PaymentAddress string `json:"paymentAddress"`
}

type createIntentError struct {
	Error string `json:"error"`
}

// CreatePaymentIntent handles POST /create-payment-intent.
func (h *IntentHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.OK(w, createIntentError{Error: "Invalid request body."})
		return
	}

	intent, err := h.engine.CreateIntent(r.Context(), req.Quantity)
	if err != nil {
		response.OK(w, createIntentError{Error: intentErrorMessage(err)})
		return
	}

	response.OK(w, createIntentResponse{
		Success:        true,
		SessionID:      intent.SessionID,
		Amount:         intent.AmountDue.String(),
		PaymentAddress: intent.Address,
	})
}

func intentErrorMessage(err error) string {
	switch {
	case errors.Is(err, reservation.ErrInvalidQuantity):
		return "Quantity must be between 1 and 20."
	case errors.Is(err, store.ErrInsufficientInventory):
		return "Not enough items remaining for this quantity."
	case errors.Is(err, store.ErrReservationRace):
		return "Could not reserve items, please try again."
	case errors.Is(err, store.ErrAmountCollision):
		return "Could not generate a unique payment amount, please try again."
	default:
		log.Printf("[handler:intent] unexpected error: %v", err)
		return "An unexpected error occurred."
	}
}
