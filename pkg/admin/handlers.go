package admin

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/engine"
	"github.com/getmockd/mockctl/pkg/httputil"
	"github.com/getmockd/mockctl/pkg/reconcile"
	"github.com/getmockd/mockctl/pkg/recording"
)

// maxBodySize bounds command and settings payloads.
const maxBodySize = 64 << 10

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  int    `json:"uptime"`
	Version string `json:"version,omitempty"`
}

// SettingsResponse acknowledges PUT /settings.
type SettingsResponse struct {
	Accepted bool              `json:"accepted"`
	Desired  reconcile.Desired `json:"desired"`
}

// RecordingListResponse is returned by GET /recordings.
type RecordingListResponse struct {
	Recordings []*recording.Recording `json:"recordings"`
	Count      int                    `json:"count"`
}

// ClearResponse is returned by DELETE /recordings.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httputil.DecodeJSON(w, r, v, maxBodySize); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_json", sanitizeJSONError(err, a.log))
		return false
	}
	return true
}

// handleHealth handles GET /health.
func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Uptime:  a.Uptime(),
		Version: a.version,
	})
}

// handleGetStatus handles GET /status.
func (a *API) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, a.surface.Status())
}

// handleCommand handles POST /commands. The command runs to completion
// before the reply; unknown features are accepted and ignored.
func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd control.Command
	if !a.decode(w, r, &cmd) {
		return
	}
	if cmd.Feature == "" {
		httputil.WriteError(w, http.StatusBadRequest, "validation_error", "feature is required")
		return
	}

	a.surface.Execute(cmd)
	httputil.WriteJSON(w, http.StatusOK, a.surface.Status())
}

// handleSettings handles PUT /settings. The tuple is applied in the
// background; a failed engine start shows up as a rollback event.
func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	var d reconcile.Desired
	if !a.decode(w, r, &d) {
		return
	}

	if err := a.reconciler.Submit(d); err != nil {
		if errors.Is(err, reconcile.ErrClosed) {
			httputil.WriteError(w, http.StatusServiceUnavailable, "shutting_down", ErrMsgShuttingDown)
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "internal_error", logAndSanitize(a.log, err, "submit settings"))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, SettingsResponse{Accepted: true, Desired: d})
}

func (a *API) requireRecordings(w http.ResponseWriter) bool {
	if a.recordings == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "recordings_unavailable", ErrMsgNoRecordings)
		return false
	}
	return true
}

// handleListRecordings handles GET /recordings.
func (a *API) handleListRecordings(w http.ResponseWriter, _ *http.Request) {
	if !a.requireRecordings(w) {
		return
	}
	recs := a.recordings.List()
	httputil.WriteJSON(w, http.StatusOK, RecordingListResponse{Recordings: recs, Count: len(recs)})
}

// handleClearRecordings handles DELETE /recordings.
func (a *API) handleClearRecordings(w http.ResponseWriter, _ *http.Request) {
	if !a.requireRecordings(w) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ClearResponse{Cleared: a.recordings.Clear()})
}

// handleExportRecordings handles GET /recordings/export.
//
// Query parameters: format (json|yaml), fallback (base URL carried into
// the document), dedupe (default true), matchQuery (default false).
func (a *API) handleExportRecordings(w http.ResponseWriter, r *http.Request) {
	if !a.requireRecordings(w) {
		return
	}
	q := r.URL.Query()

	format, err := engine.ParseFormat(q.Get("format"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_format", err.Error())
		return
	}
	opts := engine.ExportOptions{
		FallbackBaseURL: q.Get("fallback"),
		Deduplicate:     queryBool(q.Get("dedupe"), true),
		MatchQuery:      queryBool(q.Get("matchQuery"), false),
	}

	doc := engine.FromRecordings(a.recordings.List(), opts)
	var buf bytes.Buffer
	if err := doc.Encode(&buf, format); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "export_failed", logAndSanitize(a.log, err, "export recordings"))
		return
	}

	contentType := "application/json"
	if format == engine.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func queryBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
