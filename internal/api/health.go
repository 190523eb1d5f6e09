package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Plans  int    `json:"plans"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Plans:  s.engine.PlanCount(),
	})
}
