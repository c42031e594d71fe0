package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"dropmint/internal/cache"
	"dropmint/internal/store"
)

// MintHandler serves the public mint-progress operation (C6).
type MintHandler struct {
	store     store.Store
	cache     cache.Cache
	cacheTTL  time.Duration
	maxSupply int64
}

func NewMintHandler(s store.Store, c cache.Cache, cacheTTL time.Duration, maxSupply int64) *MintHandler {
	return &MintHandler{store: s, cache: c, cacheTTL: cacheTTL, maxSupply: maxSupply}
}

type progressResponse struct {
	Total      int     `json:"total"`
	Minted     int     `json:"minted"`
	Reserved   int     `json:"reserved"`
	Available  int     `json:"available"`
	Percentage float64 `json:"percentage"`
}

const progressCacheKey = "mint-progress"

// Progress handles GET /mint-progress.
func (h *MintHandler) Progress(w http.ResponseWriter, r *http.Request) {
	body, err := h.cache.GetOrSet(r.Context(), progressCacheKey, h.cacheTTL, func() ([]byte, error) {
		return h.computeProgress(r.Context())
	})
	if err != nil {
		log.Printf("[handler:progress] %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *MintHandler) computeProgress(ctx context.Context) ([]byte, error) {
	stats, err := h.store.Progress(ctx, h.maxSupply)
	if err != nil {
		return nil, err
	}

	var pct float64
	if stats.Total > 0 {
		pct = float64(stats.Minted) / float64(stats.Total) * 100
	}

	return json.Marshal(progressResponse{
		Total:      stats.Total,
		Minted:     stats.Minted,
		Reserved:   stats.Reserved,
		Available:  stats.Available,
		Percentage: pct,
	})
}
