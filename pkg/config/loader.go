package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfigDir is the directory under the user config dir.
const GlobalConfigDir = "mockctl"

// LocalConfigFileNames are searched in the working directory, in order.
var LocalConfigFileNames = []string{".mockctl.yaml", ".mockctl.yml"}

// GlobalConfigFileNames are searched in the global config dir, in order.
var GlobalConfigFileNames = []string{"config.yaml", "config.yml"}

// Environment variables.
const (
	EnvConfig        = "MOCKCTL_CONFIG"
	EnvAdminAddress  = "MOCKCTL_ADMIN_ADDRESS"
	EnvEngineAddress = "MOCKCTL_ENGINE_ADDRESS"
	EnvAssetsDir     = "MOCKCTL_ASSETS_DIR"
	EnvHTTPTimeout   = "MOCKCTL_HTTP_TIMEOUT"
	EnvPrefsBackend  = "MOCKCTL_PREFS_BACKEND"
	EnvPrefsPath     = "MOCKCTL_PREFS_PATH"
	EnvSettleDelay   = "MOCKCTL_SETTLE_DELAY"
	EnvMQTTBroker    = "MOCKCTL_MQTT_BROKER"
	EnvMQTTTopic     = "MOCKCTL_MQTT_TOPIC"
	EnvWatch         = "MOCKCTL_WATCH"
	EnvLogLevel      = "MOCKCTL_LOG_LEVEL"
	EnvLogFormat     = "MOCKCTL_LOG_FORMAT"
	EnvLogFile       = "MOCKCTL_LOG_FILE"
	EnvPIDFile       = "MOCKCTL_PID_FILE"
)

// ConfigError is a configuration file that could not be read or parsed.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Path + ": " + e.Message
}

// Find returns the first existing config file, or "" when there is none.
func Find() string {
	if cwd, err := os.Getwd(); err == nil {
		for _, name := range LocalConfigFileNames {
			p := filepath.Join(cwd, name)
			if fileExists(p) {
				return p
			}
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		for _, name := range GlobalConfigFileNames {
			p := filepath.Join(dir, GlobalConfigDir, name)
			if fileExists(p) {
				return p
			}
		}
	}
	return ""
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Load builds the configuration from defaults, the config file and the
// environment. An explicit path must exist; otherwise a missing file just
// means defaults. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	explicit := path != ""
	if !explicit {
		path = Find()
	}

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if !explicit && errors.Is(err, os.ErrNotExist) {
				path = ""
			} else {
				return nil, err
			}
		}
	}
	cfg.Path = path

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile decodes path over the current values; absent keys keep them.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return &ConfigError{Path: path, Message: err.Error()}
	}
	return nil
}

// applyEnv overrides values from MOCKCTL_* variables.
func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str(EnvAdminAddress, &c.Admin.Address)
	str(EnvEngineAddress, &c.Engine.Address)
	str(EnvAssetsDir, &c.AssetsDir)
	dur(EnvHTTPTimeout, &c.Resolver.HTTPTimeout)
	if v, ok := os.LookupEnv(EnvPrefsBackend); ok {
		c.Prefs.Backend = prefsBackend(v)
	}
	str(EnvPrefsPath, &c.Prefs.Path)
	dur(EnvSettleDelay, &c.Reconcile.SettleDelay)
	if v, ok := os.LookupEnv(EnvMQTTBroker); ok {
		c.MQTT.Broker = v
		c.MQTT.Enabled = v != ""
	}
	str(EnvMQTTTopic, &c.MQTT.Topic)
	if v, ok := os.LookupEnv(EnvWatch); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvWatch, err))
		} else {
			c.Watch.Enabled = b
		}
	}
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvLogFile, &c.Log.File)
	str(EnvPIDFile, &c.PIDFile)

	return errors.Join(errs...)
}

// Encode writes c as YAML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
