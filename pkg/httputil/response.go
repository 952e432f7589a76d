// Package httputil holds the JSON reply helpers shared by the admin API
// and the mock engine.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// ErrorResponse is the body of every JSON error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes an ErrorResponse with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteJSON(w, status, ErrorResponse{Error: errCode, Message: message})
}

// DecodeJSON decodes at most limit bytes of the request body into v.
// Trailing content after the first value is rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected content after JSON value")
	}
	return nil
}

// ReadError decodes an ErrorResponse from a failed reply. A body that is
// not one yields the zero value and false.
func ReadError(resp *http.Response, limit int64) (ErrorResponse, bool) {
	var e ErrorResponse
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil || json.Unmarshal(body, &e) != nil || e.Error == "" {
		return ErrorResponse{}, false
	}
	return e, true
}
