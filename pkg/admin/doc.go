// Package admin exposes the control surface over HTTP.
//
// Routes:
//
//	GET    /health              liveness and uptime
//	GET    /status              control status
//	POST   /commands            execute a control.Command synchronously
//	PUT    /settings            submit a desired tuple to the reconciler (202)
//	GET    /events              websocket stream of status and rollback events
//	GET    /recordings          recorded missing requests
//	DELETE /recordings          clear recordings
//	GET    /recordings/export   recordings as an engine document (?format=json|yaml)
//	GET    /metrics             Prometheus exposition
//
// Client talks to a running daemon and implements reconcile.Target, so a
// UI in another process drives the same reconciliation protocol.
package admin
