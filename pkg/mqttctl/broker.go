package mqttctl

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/getmockd/mockctl/pkg/logging"
)

// Broker is an embedded MQTT broker that accepts every client.
type Broker struct {
	address string
	server  *mqtt.Server
	log     *slog.Logger

	mu       sync.Mutex
	listener *listeners.TCP
	running  bool
}

// NewBroker creates a broker listening on address once started.
func NewBroker(address string, log *slog.Logger) (*Broker, error) {
	if address == "" {
		return nil, errors.New("broker address is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	log = logging.Component(log, "mqtt-broker")

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       log,
	})
	// mochi requires an auth hook; the broker is meant for loopback use.
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add allow hook: %w", err)
	}

	return &Broker{address: address, server: server, log: log}, nil
}

// Start listens and serves in the background.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("broker is already running")
	}

	l := listeners.NewTCP(listeners.Config{ID: "mockctl", Address: b.address})
	if err := b.server.AddListener(l); err != nil {
		return fmt.Errorf("broker listen on %s: %w", b.address, err)
	}
	b.listener = l

	go func() {
		if err := b.server.Serve(); err != nil {
			b.log.Error("MQTT server error", "error", err)
		}
	}()

	b.running = true
	b.log.Info("MQTT broker started", "address", l.Address())
	return nil
}

// Addr returns the listen address.
func (b *Broker) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener != nil {
		return b.listener.Address()
	}
	return b.address
}

// Close stops the broker and disconnects its clients.
func (b *Broker) Close() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	if err := b.server.Close(); err != nil {
		return fmt.Errorf("failed to close broker: %w", err)
	}
	b.log.Info("MQTT broker stopped")
	return nil
}
