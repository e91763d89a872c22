package httputil

import (
	"encoding/json"
	"net/http"
)

// Failure is the body of every error response
type Failure struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Detail  interface{} `json:"detail,omitempty"`
}

// Message is the body of plain acknowledgement responses
type Message struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 response with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteMessage writes {"message": ...} with the given status
func WriteMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, Message{Message: message})
}

// WriteFailure writes {"success": false, "error": ..., "detail": ...}.
// A nil or empty detail is omitted.
func WriteFailure(w http.ResponseWriter, status int, message string, detail interface{}) {
	if s, ok := detail.(string); ok && s == "" {
		detail = nil
	}
	_ = WriteJSON(w, status, Failure{
		Success: false,
		Error:   message,
		Detail:  detail,
	})
}

// WriteBadRequest writes a 400 failure
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusBadRequest, message, nil)
}

// WriteUnauthorized writes a 401 failure
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusUnauthorized, message, nil)
}

// WriteNotFound writes a 404 failure
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusNotFound, message, nil)
}

// WriteTooManyRequests writes a 429 failure
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusTooManyRequests, message, nil)
}

// WriteServiceUnavailable writes a 503 failure
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteFailure(w, http.StatusServiceUnavailable, message, nil)
}

// WriteInternalError writes a 500 failure. The error text becomes the detail;
// stack traces never reach the client.
func WriteInternalError(w http.ResponseWriter, message string, err error) {
	var detail interface{}
	if err != nil {
		detail = err.Error()
	}
	WriteFailure(w, http.StatusInternalServerError, message, detail)
}
