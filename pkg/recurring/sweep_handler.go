package recurring

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// SweepHandler exposes the "run all due" trigger over HTTP.
type SweepHandler struct {
	sweeper *Sweeper
}

func NewSweepHandler(sweeper *Sweeper) *SweepHandler {
	return &SweepHandler{sweeper}
}

func (h *SweepHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	log.Debug("Manual recurring sweep requested")
	w.Header().Set("Content-Type", "application/json")

	stats, err := h.sweeper.RunAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
