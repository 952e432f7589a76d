// Package engine is the mock HTTP server that mockctl switches on and off.
//
// An engine is built from a configuration Document (JSON or YAML) that
// lists request criteria and the responses to give for them. Requests that
// match nothing are either answered with a 404 or, when the document names
// a fallbackBaseUrl, forwarded upstream. Forwarded exchanges can be
// recorded and later exported as a new Document:
//
//	srv, err := engine.New(doc, engine.Options{Recordings: store})
//	if err != nil { ... }
//	srv.SetRecordMissingRequestsEnabled(true)
//	if err := srv.Start(); err != nil { ... }
//	defer srv.Stop()
//
// Failed upstream responses (non-2xx) are recorded only when both
// record-missing and record-missing-failures are enabled.
package engine
