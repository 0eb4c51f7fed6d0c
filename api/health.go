package api

import (
	"net/http"
	"time"
)

type healthNTP struct {
	Checked   bool      `json:"checked"`
	Healthy   bool      `json:"healthy"`
	OffsetMS  int64     `json:"offset_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitzero"`
}

type healthResponse struct {
	Status string     `json:"status"`
	NTP    *healthNTP `json:"ntp,omitempty"`
}

// handleHealth is unauthenticated: it carries no fleet data, only
// liveness and the clock-skew measurement.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{Status: "ok"}
	if s.Skew != nil {
		st := s.Skew.Status()
		res.NTP = &healthNTP{
			Checked:   st.Checked(),
			Healthy:   st.Healthy,
			OffsetMS:  st.Offset.Milliseconds(),
			Error:     st.Error,
			CheckedAt: st.CheckedAt,
		}
	}
	writeJSON(w, http.StatusOK, res)
}
