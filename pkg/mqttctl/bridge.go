package mqttctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/getmockd/mockctl/pkg/control"
	"github.com/getmockd/mockctl/pkg/logging"
)

// Defaults.
const (
	DefaultTopic    = "mockctl"
	DefaultClientID = "mockctl"

	publishTimeout = 5 * time.Second
	commandBuffer  = 16
)

// Executor is the part of control.Surface the bridge drives.
type Executor interface {
	Execute(cmd control.Command)
	Status() control.Status
	Subscribe() (<-chan control.Status, func())
}

// Config locates the broker and names the topics.
type Config struct {
	Broker   string `yaml:"broker" json:"broker"`
	Topic    string `yaml:"topic" json:"topic"`
	ClientID string `yaml:"clientId" json:"clientId"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	QoS      byte   `yaml:"qos" json:"qos"`
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
	return c
}

// SetTopic is where commands arrive.
func (c Config) SetTopic() string { return c.Topic + "/set" }

// StatusTopic carries the retained status.
func (c Config) StatusTopic() string { return c.Topic + "/status" }

// OnlineTopic carries the retained connection flag.
func (c Config) OnlineTopic() string { return c.Topic + "/online" }

// Bridge connects an Executor to a broker.
type Bridge struct {
	exec   Executor
	cfg    Config
	log    *slog.Logger
	client paho.Client

	commands    chan control.Command
	unsubscribe func()
	wg          sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a bridge. Nothing connects until Start.
func New(exec Executor, cfg Config, log *slog.Logger) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker URL is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	cfg = cfg.withDefaults()
	b := &Bridge{
		exec:     exec,
		cfg:      cfg,
		log:      logging.Component(log, "mqtt"),
		commands: make(chan control.Command, commandBuffer),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetWill(cfg.OnlineTopic(), "false", cfg.QoS, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.log.Warn("connection to broker lost", "error", err)
	})
	b.client = paho.NewClient(opts)
	return b, nil
}

// Start connects and begins relaying. It returns once the first connection
// succeeded or ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started || b.closed {
		b.mu.Unlock()
		return errors.New("bridge already started")
	}
	b.started = true
	b.mu.Unlock()

	updates, unsubscribe := b.exec.Subscribe()
	b.unsubscribe = unsubscribe

	b.wg.Add(2)
	go b.runCommands()
	go b.relay(updates)

	token := b.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			b.Close()
			return fmt.Errorf("connecting to %s: %w", b.cfg.Broker, err)
		}
	case <-ctx.Done():
		b.Close()
		return ctx.Err()
	}
	return nil
}

// onConnect runs on every (re)connection: subscriptions are not kept by a
// clean session.
func (b *Bridge) onConnect(c paho.Client) {
	b.log.Info("connected to broker", "broker", b.cfg.Broker, "topic", b.cfg.Topic)

	token := c.Subscribe(b.cfg.SetTopic(), b.cfg.QoS, b.onMessage)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		b.log.Error("subscribe failed", "topic", b.cfg.SetTopic(), "error", token.Error())
	}

	b.publish(b.cfg.OnlineTopic(), []byte("true"))
	b.publishStatus(b.exec.Status())
}

// onMessage hands the command to runCommands so the paho router is never
// blocked by an engine restart.
func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	var cmd control.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		b.log.Warn("ignoring malformed command", "topic", msg.Topic(), "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.commands <- cmd:
	default:
		b.log.Warn("command queue full, dropping command", "feature", cmd.Feature)
	}
}

func (b *Bridge) runCommands() {
	defer b.wg.Done()
	for cmd := range b.commands {
		b.log.Debug("executing command", "feature", cmd.Feature)
		b.exec.Execute(cmd)
	}
}

func (b *Bridge) relay(updates <-chan control.Status) {
	defer b.wg.Done()
	for st := range updates {
		b.publishStatus(st)
	}
}

func (b *Bridge) publishStatus(st control.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		b.log.Error("encoding status", "error", err)
		return
	}
	b.publish(b.cfg.StatusTopic(), payload)
}

func (b *Bridge) publish(topic string, payload []byte) {
	if !b.client.IsConnectionOpen() {
		return
	}
	token := b.client.Publish(topic, b.cfg.QoS, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		b.log.Warn("publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		b.log.Warn("publish failed", "topic", topic, "error", err)
	}
}

// Close marks the bridge offline, disconnects and waits for queued
// commands to finish.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	started := b.started
	close(b.commands)
	b.mu.Unlock()

	if !started {
		return
	}

	b.publish(b.cfg.OnlineTopic(), []byte("false"))
	b.client.Disconnect(250)
	b.unsubscribe()
	b.wg.Wait()
	b.log.Info("MQTT bridge stopped")
}
