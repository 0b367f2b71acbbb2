package api

import (
	"driver-cost-service/internal/api/handlers"
	"driver-cost-service/internal/ports"
	"net/http"

	"go.uber.org/zap"
)

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(source ports.StopSource, runner handlers.Runner, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()

	stopHandler := &handlers.StopHandler{Source: source, Log: log}
	runHandler := &handlers.RunHandler{Source: source, Runner: runner, Log: log}

	mux.HandleFunc("/health", handlers.Health)
	mux.HandleFunc("/stops", stopHandler.List)
	mux.HandleFunc("/runs", runHandler.Run)

	return loggingMiddleware(mux, log)
}
