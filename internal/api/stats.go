package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByKind        map[string]int `json:"by_kind"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("get execution stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByKind:        stats.CountByKind,
		Succeeded:     stats.CountSuccess,
		Failed:        stats.CountFailed,
		AvgDurationMS: stats.AvgDurationMS,
	})
}
