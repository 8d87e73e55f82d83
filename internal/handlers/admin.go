package handlers

import (
	"net/http"
	"strconv"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRecentLimit)
	}

	entries, err := h.requests.Recent(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to list request logs")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) ListSuspicious(w http.ResponseWriter, r *http.Request) {
	entries, err := h.suspicious.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list suspicious addresses")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blocked.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list blocked addresses")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
