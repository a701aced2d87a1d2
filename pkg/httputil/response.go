package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorResponse is the body of every error response. RequestID repeats the
// X-Request-ID response header so a client can quote it from the body alone.
type ErrorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorStatus maps a sentinel error to the status WriteMappedError answers with
type ErrorStatus struct {
	Err    error
	Status int
}

// WriteJSON writes data as JSON with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes data with 200 OK
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes 204 No Content
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes message as an ErrorResponse with the given status
func WriteError(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{
		Error:     message,
		Status:    status,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// WriteMappedError answers with the status of the first rule err matches, 500 otherwise
func WriteMappedError(w http.ResponseWriter, err error, rules ...ErrorStatus) {
	status := http.StatusInternalServerError
	for _, rule := range rules {
		if errors.Is(err, rule.Err) {
			status = rule.Status
			break
		}
	}
	WriteError(w, status, err.Error())
}

// WriteNotFound writes 404 with message
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteInternalError writes err with 500
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, err.Error())
}
