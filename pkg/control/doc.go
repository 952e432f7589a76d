// Package control is the long-lived holder of the mock engine.
//
// A Surface owns a toggle.State for the life of the process and applies
// every transition on a single worker goroutine, so transitions never run
// concurrently and are applied in submission order. Transition methods
// block until applied and never return errors; the outcome is visible
// through Status, LastError and the change channel from Subscribe.
//
// Commands arrive from the admin API, the MQTT bridge and the CLI as
// Command values and go through Execute.
package control
