package handlers

import (
	"net/http"
	"time"
)

type statusResponse struct {
	Code      int    `json:"code"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// HandleStatus reports that the API is up.
func (m Main) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.writeJSON(w, http.StatusOK, statusResponse{
		Code:      http.StatusOK,
		Status:    "ok",
		Message:   "streamchat is running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
