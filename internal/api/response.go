package api

import (
	"encoding/json"
	"net/http"
)

// Response is the uniform envelope every endpoint returns. The HTTP status
// code is always consistent with Success.
type Response struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Count        *int   `json:"count,omitempty"`
	DeletedCount *int64 `json:"deletedCount,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func writeList(w http.ResponseWriter, count int, data any) {
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Count:   &count,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{
		Success: false,
		Message: message,
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, message)
}

func conflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "An internal error occurred")
}
