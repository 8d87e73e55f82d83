package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes wires the application routes. limit wraps the sensitive
// login view.
func RegisterRoutes(r *mux.Router, h *Handler, limit func(http.Handler) http.Handler) {
	r.HandleFunc("/healthz", HandleHealth).Methods("GET")
	r.Handle("/login", limit(http.HandlerFunc(HandleLogin))).Methods("GET", "POST")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/requests", h.ListRequests).Methods("GET")
	admin.HandleFunc("/suspicious", h.ListSuspicious).Methods("GET")
	admin.HandleFunc("/blocked", h.ListBlocked).Methods("GET")
}
