package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/getmockd/mockctl/pkg/prefs"
)

// ValidationError lists every invalid field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func prefsBackend(s string) prefs.Backend {
	return prefs.Backend(strings.ToLower(strings.TrimSpace(s)))
}

// Validate checks c and returns a *ValidationError when anything is wrong.
func (c *Config) Validate() error {
	var problems []string
	add := func(field, format string, args ...any) {
		problems = append(problems, field+": "+fmt.Sprintf(format, args...))
	}

	checkAddr := func(field, addr string, required bool) {
		if addr == "" {
			if required {
				add(field, "is required")
			}
			return
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(field, "%q is not host:port", addr)
		}
	}

	checkAddr("admin.address", c.Admin.Address, true)
	checkAddr("engine.address", c.Engine.Address, true)
	if c.Admin.Address != "" && c.Admin.Address == c.Engine.Address {
		add("engine.address", "must differ from admin.address")
	}
	if c.Engine.RecordingsLimit < 0 {
		add("engine.recordingsLimit", "must not be negative")
	}
	if c.Engine.ShutdownTimeout < 0 {
		add("engine.shutdownTimeout", "must not be negative")
	}
	if c.Resolver.HTTPTimeout < 0 {
		add("resolver.httpTimeout", "must not be negative")
	}
	if c.Reconcile.SettleDelay < 0 {
		add("reconcile.settleDelay", "must not be negative")
	}

	switch c.Prefs.Backend {
	case prefs.BackendMemory, prefs.BackendFile, prefs.BackendSQLite:
	default:
		add("prefs.backend", "unknown backend %q (expected memory, file or sqlite)", c.Prefs.Backend)
	}

	if c.MQTT.Enabled {
		if c.MQTT.BrokerURL() == "" {
			add("mqtt.broker", "is required when mqtt is enabled (or set mqtt.embeddedBroker)")
		}
		checkAddr("mqtt.embeddedBroker", c.MQTT.EmbeddedBroker, false)
		if c.MQTT.QoS > 2 {
			add("mqtt.qos", "must be 0, 1 or 2")
		}
		if strings.ContainsAny(c.MQTT.Topic, "+#") {
			add("mqtt.topic", "must not contain wildcards")
		}
	}

	if c.Watch.Debounce < 0 {
		add("watch.debounce", "must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format", "unknown format %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
