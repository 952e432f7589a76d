// Package lifecycle marks the process that holds the engine as a
// long-lived daemon while the control surface is alive.
package lifecycle

// Host is promoted when a control surface starts and demoted when it
// closes.
type Host interface {
	Promote() error
	Demote() error
}

// Nop is a Host that does nothing, for library and test use.
type Nop struct{}

func (Nop) Promote() error { return nil }
func (Nop) Demote() error  { return nil }
