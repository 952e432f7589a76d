package admin

import (
	"log/slog"

	"github.com/getmockd/mockctl/pkg/httputil"
)

// Safe error messages for client responses.
const (
	ErrMsgInvalidJSON     = "Invalid JSON in request body"
	ErrMsgInvalidRequest  = "Invalid request format"
	ErrMsgOperationFailed = "Operation failed"
	ErrMsgNotFound        = "Resource not found"
	ErrMsgNoRecordings    = "Recording is not configured"
	ErrMsgShuttingDown    = "Daemon is shutting down"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse = httputil.ErrorResponse

// sanitizeJSONError logs a decode failure and returns the client message.
func sanitizeJSONError(err error, log *slog.Logger) string {
	if log != nil {
		log.Debug("JSON parsing failed", "error", err)
	}
	return ErrMsgInvalidJSON
}

// logAndSanitize logs err server-side and returns a generic message.
func logAndSanitize(log *slog.Logger, err error, operation string) string {
	if log != nil {
		log.Error(operation+" failed", "error", err)
	}
	return ErrMsgOperationFailed
}
