package handlers

import (
	"context"
	"driver-cost-service/internal/api/dto"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/ports"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// maxStopsPerRequest bounds inline stop uploads.
const maxStopsPerRequest = 50000

// Runner prices a batch of stops; Write persists a finished report.
type Runner interface {
	Run(ctx context.Context, stops []domain.Stop) (*domain.Report, error)
	Write(ctx context.Context, report *domain.Report) error
}

type RunHandler struct {
	Source ports.StopSource
	Runner Runner
	Log    *zap.Logger
}

// Run prices either the stops posted in the body or, when none are given,
// everything the configured stop source holds.
func (h *RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req dto.RunRequest

	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "body must contain only one JSON object")
		return
	}
	if len(req.Stops) > maxStopsPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d stops per request", maxStopsPerRequest))
		return
	}

	stops := make([]domain.Stop, 0, len(req.Stops))
	for i, seed := range req.Stops {
		s, err := seed.Stop()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("stop %d: %v", i+1, err))
			return
		}
		stops = append(stops, s)
	}

	if len(stops) == 0 {
		var err error
		stops, err = h.Source.ListStops(r.Context())
		if err != nil {
			h.Log.Error("list stops failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	rep, err := h.Runner.Run(r.Context(), stops)
	if err != nil {
		h.Log.Error("run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if req.Persist {
		if err := h.Runner.Write(r.Context(), rep); err != nil {
			h.Log.Error("write report failed", zap.String("run_id", rep.RunID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	writeJSON(w, http.StatusOK, dto.FromReport(rep, req.IncludeSegments))
}
