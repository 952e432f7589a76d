// Package ports provides listen address availability checking.
package ports

import (
	"fmt"
	"net"
)

// Check returns an error when addr cannot be bound right now. Port 0 is
// always available.
func Check(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "0" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s is not available: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}

// CheckAll checks every non-empty address.
func CheckAll(addrs ...string) error {
	for _, a := range addrs {
		if a == "" {
			continue
		}
		if err := Check(a); err != nil {
			return err
		}
	}
	return nil
}
