package config

import (
	"time"

	"github.com/getmockd/mockctl/pkg/admin"
	"github.com/getmockd/mockctl/pkg/engine"
	"github.com/getmockd/mockctl/pkg/mqttctl"
	"github.com/getmockd/mockctl/pkg/prefs"
	"github.com/getmockd/mockctl/pkg/reconcile"
	"github.com/getmockd/mockctl/pkg/recording"
	"github.com/getmockd/mockctl/pkg/resolver"
	"github.com/getmockd/mockctl/pkg/watch"
)

// Config is the daemon configuration.
type Config struct {
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Engine    EngineConfig    `yaml:"engine" json:"engine"`
	AssetsDir string          `yaml:"assetsDir" json:"assetsDir"`
	Resolver  ResolverConfig  `yaml:"resolver" json:"resolver"`
	Prefs     prefs.Config    `yaml:"prefs" json:"prefs"`
	Reconcile ReconcileConfig `yaml:"reconcile" json:"reconcile"`
	MQTT      MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Log       LogConfig       `yaml:"log" json:"log"`
	PIDFile   string          `yaml:"pidFile" json:"pidFile"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-" json:"-"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	Address string `yaml:"address" json:"address"`
	// Metrics serves /metrics.
	Metrics bool `yaml:"metrics" json:"metrics"`
}

// EngineConfig holds the application-scoped engine settings bound into
// the engine factory. A document's own address wins over Address.
type EngineConfig struct {
	Address string `yaml:"address" json:"address"`
	// RecordingsFile persists recordings across restarts when set.
	RecordingsFile  string        `yaml:"recordingsFile" json:"recordingsFile"`
	RecordingsLimit int           `yaml:"recordingsLimit" json:"recordingsLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// ResolverConfig configures descriptor resolution.
type ResolverConfig struct {
	HTTPTimeout time.Duration `yaml:"httpTimeout" json:"httpTimeout"`
}

// ReconcileConfig configures the daemon-side reconciler.
type ReconcileConfig struct {
	SettleDelay time.Duration `yaml:"settleDelay" json:"settleDelay"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	mqttctl.Config `yaml:",inline"`
	// EmbeddedBroker starts a broker on this address and, when Broker is
	// empty, points the bridge at it.
	EmbeddedBroker string `yaml:"embeddedBroker" json:"embeddedBroker"`
}

// WatchConfig configures the configuration file watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Admin: AdminConfig{
			Address: admin.DefaultAddress,
			Metrics: true,
		},
		Engine: EngineConfig{
			Address:         engine.DefaultAddress,
			RecordingsLimit: recording.DefaultLimit,
			ShutdownTimeout: 5 * time.Second,
		},
		Resolver:  ResolverConfig{HTTPTimeout: resolver.DefaultHTTPTimeout},
		Prefs:     prefs.DefaultConfig(),
		Reconcile: ReconcileConfig{SettleDelay: reconcile.DefaultSettleDelay},
		MQTT: MQTTConfig{
			Config: mqttctl.Config{
				Topic:    mqttctl.DefaultTopic,
				ClientID: mqttctl.DefaultClientID,
				QoS:      1,
			},
		},
		Watch: WatchConfig{Enabled: true, Debounce: watch.DefaultDebounce},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// BrokerURL is the broker the bridge connects to.
func (c MQTTConfig) BrokerURL() string {
	if c.Broker != "" {
		return c.Broker
	}
	if c.EmbeddedBroker != "" {
		return "tcp://" + c.EmbeddedBroker
	}
	return ""
}
