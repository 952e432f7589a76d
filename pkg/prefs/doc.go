// Package prefs provides the durable key/value store that holds the
// daemon's desired state between restarts.
//
// Three backends implement Store:
//
//   - memory: a map, for tests and ephemeral runs
//   - file: a JSON document rewritten atomically on every put
//   - sqlite: a single table managed by goose migrations
//
// Use Open to select one from configuration. Reads never fail: a missing
// key, a value of the wrong type or a backend error all yield the caller's
// default. Writes report errors so callers can log them.
package prefs
