package app

import (
	"github.com/gorilla/mux"
	"github.com/ledgerd/ledgerd/internal/config"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies, cfg config.Application) {

	// Entries (expense and income, discriminated by ?kind= / body kind)
	r.HandleFunc("/api/entry", deps.EntryHandler.Create).Methods("POST")
	r.HandleFunc("/api/entry", deps.EntryHandler.GetAll).Queries("kind", "{kind}").Methods("GET")
	r.HandleFunc("/api/entry/{id}", deps.EntryHandler.Get).Methods("GET")
	r.HandleFunc("/api/entry/{id}", deps.EntryHandler.Update).Methods("PUT")
	r.HandleFunc("/api/entry/{id}", deps.EntryHandler.Delete).Methods("DELETE")

	// Recurrence control
	r.HandleFunc("/api/entry/{id}/recurrence", deps.EntryHandler.CancelRecurrence).Methods("DELETE")
	r.HandleFunc("/api/recurring/sweep", deps.SweepHandler.RunNow).Methods("POST")
}
