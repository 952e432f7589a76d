package admin

import (
	"net/http"
)

func (a *API) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /status", a.handleGetStatus)
	mux.HandleFunc("POST /commands", a.handleCommand)
	mux.HandleFunc("PUT /settings", a.handleSettings)
	mux.HandleFunc("GET /events", a.handleEvents)

	mux.HandleFunc("GET /recordings", a.handleListRecordings)
	mux.HandleFunc("DELETE /recordings", a.handleClearRecordings)
	mux.HandleFunc("GET /recordings/export", a.handleExportRecordings)

	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
}
