// Package toggle holds the enable/disable state of the mock engine and its
// two recording sub-features, and owns the engine handle.
//
// State is written through to a prefs.Store after every transition so it
// can be restored after a restart. A State is not safe for concurrent
// transitions; the control package serializes them. Queries are safe from
// any goroutine.
package toggle
