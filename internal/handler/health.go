package handler

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"dropmint/pkg/response"
)

// StartTime tracks when the server started for uptime calculation.
var StartTime = time.Now()

// HealthHandler serves the process health probe.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    humanize.Time(StartTime),
	})
}
