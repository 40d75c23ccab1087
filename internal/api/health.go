package api

import (
	"context"
	"net/http"
	"time"
)

// healthResponse reports overall service health plus per-dependency state.
type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	code := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("healthz store ping", "error", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, resp)
}
