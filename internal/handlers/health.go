package handlers

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
}

// HealthHandler responds with service health information.
type HealthHandler struct{}

// Handle implements GET /healthz.
func (HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, healthResponse{Status: "ok"})
}
