// Package cli implements the mockctl command line.
//
// serve runs the daemon: the control surface with its engine, the admin
// API, and optionally the MQTT bridge and the configuration watcher. The
// other commands talk to a running daemon through its admin API.
package cli
