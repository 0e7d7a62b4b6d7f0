// Package errors writes JSON error responses and request-scoped log lines
// for the gateway API.
package errors

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type errorBody struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// WriteError sends a JSON error payload with the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeBody(w, status, errorBody{Error: message})
}

// WriteUpstreamError sends a 502 carrying the upstream status code so the
// agent can distinguish gateway failures from DAV server failures.
func WriteUpstreamError(w http.ResponseWriter, r *http.Request, upstreamStatus int, err error) {
	LogError(r, "upstream request failed", err)
	writeBody(w, http.StatusBadGateway, errorBody{
		Error:          "upstream error",
		UpstreamStatus: upstreamStatus,
	})
}

// InternalError logs err with the request ID and sends a generic 500.
func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	WriteError(w, http.StatusInternalServerError, "internal server error")
}

// BadRequestError logs err and sends clientMessage with a 400.
func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	requestID := middleware.GetReqID(r.Context())
	if requestID != "" {
		log.Printf("[WARN] RequestID=%s: bad request: %v", requestID, err)
	} else {
		log.Printf("[WARN] bad request: %v", err)
	}
	WriteError(w, http.StatusBadRequest, clientMessage)
}

// LogError records an error with the request ID for correlation.
func LogError(r *http.Request, message string, err error) {
	requestID := middleware.GetReqID(r.Context())
	if requestID != "" {
		log.Printf("[ERROR] RequestID=%s: %s: %v", requestID, message, err)
	} else {
		log.Printf("[ERROR] %s: %v", message, err)
	}
}

func writeBody(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
