package handlers

import (
	"driver-cost-service/internal/api/dto"
	"driver-cost-service/internal/ports"
	"net/http"

	"go.uber.org/zap"
)

// StopHandler exposes read-only stop retrieval endpoints.
type StopHandler struct {
	Source ports.StopSource
	Log    *zap.Logger
}

func (h *StopHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stops, err := h.Source.ListStops(r.Context())
	if err != nil {
		h.Log.Error("list stops failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	res := dto.ListStopsResponse{Stops: make([]dto.StopResponse, 0, len(stops))}
	for _, s := range stops {
		res.Stops = append(res.Stops, dto.FromStop(s))
	}

	writeJSON(w, http.StatusOK, res)
}
