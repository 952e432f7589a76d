package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockctl/pkg/cli/internal/output"
	"github.com/getmockd/mockctl/pkg/cli/internal/ports"
	"github.com/getmockd/mockctl/pkg/config"
	"github.com/getmockd/mockctl/pkg/logging"
	"github.com/getmockd/mockctl/pkg/prefs"
)

var serveFlags struct {
	config         string
	adminAddress   string
	engineAddress  string
	assetsDir      string
	prefsBackend   string
	prefsPath      string
	mqttBroker     string
	embeddedBroker string
	noWatch        bool
	noMetrics      bool
	logLevel       string
	logFormat      string
	logFile        string
	pidFile        string
	printConfig    bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mockctl daemon",
	Long: `Run the mockctl daemon in the foreground.

The daemon restores the last persisted state, serves the admin API and,
when configured, bridges commands from MQTT and reloads the engine when
its local configuration file changes.

Settings are layered: built-in defaults, then the config file
(--config, ./.mockctl.yaml or ~/.config/mockctl/config.yaml), then
MOCKCTL_* environment variables, then these flags.`,
	Example: `  # Start with defaults
  mockctl serve

  # Keep preferences in SQLite and bridge commands over an embedded broker
  mockctl serve --prefs-backend sqlite --embedded-broker 127.0.0.1:1883

  # Show the effective configuration and exit
  mockctl serve --print-config`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig(cmd)
		if err != nil {
			return err
		}
		if serveFlags.printConfig {
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		log, closer, err := logging.Open(logging.Config{
			Level:  logging.ParseLevel(cfg.Log.Level),
			Format: logging.ParseFormat(cfg.Log.Format),
			Output: cmd.ErrOrStderr(),
			File:   config.ExpandHome(cfg.Log.File),
		})
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		if err := ports.Check(cfg.Admin.Address); err != nil {
			return fmt.Errorf("admin API: %w", err)
		}
		if err := ports.Check(cfg.Engine.Address); err != nil {
			output.Warn(cmd.ErrOrStderr(), "engine address %s is in use; enabling the engine will fail unless its configuration names another address", cfg.Engine.Address)
		}
		if cfg.MQTT.EmbeddedBroker != "" {
			if err := ports.Check(cfg.MQTT.EmbeddedBroker); err != nil {
				return fmt.Errorf("embedded broker: %w", err)
			}
		}
		if cfg.Path != "" {
			log.Info("loaded configuration", "path", cfg.Path)
		}

		d, err := newDaemon(cfg, log, versionInfo().Version)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := d.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// loadServeConfig layers the command line over config.Load.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(serveFlags.config)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("admin-address") {
		cfg.Admin.Address = serveFlags.adminAddress
	}
	if f.Changed("engine-address") {
		cfg.Engine.Address = serveFlags.engineAddress
	}
	if f.Changed("assets-dir") {
		cfg.AssetsDir = serveFlags.assetsDir
	}
	if f.Changed("prefs-backend") {
		cfg.Prefs.Backend = prefs.Backend(serveFlags.prefsBackend)
	}
	if f.Changed("prefs-path") {
		cfg.Prefs.Path = serveFlags.prefsPath
	}
	if f.Changed("mqtt-broker") {
		cfg.MQTT.Broker = serveFlags.mqttBroker
		cfg.MQTT.Enabled = serveFlags.mqttBroker != ""
	}
	if f.Changed("embedded-broker") {
		cfg.MQTT.EmbeddedBroker = serveFlags.embeddedBroker
		if serveFlags.embeddedBroker != "" {
			cfg.MQTT.Enabled = true
		}
	}
	if serveFlags.noWatch {
		cfg.Watch.Enabled = false
	}
	if serveFlags.noMetrics {
		cfg.Admin.Metrics = false
	}
	if f.Changed("log-level") {
		cfg.Log.Level = serveFlags.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = serveFlags.logFormat
	}
	if f.Changed("log-file") {
		cfg.Log.File = serveFlags.logFile
	}
	if f.Changed("pid-file") {
		cfg.PIDFile = serveFlags.pidFile
	}
	if f.Changed("settle-delay") {
		d, err := f.GetDuration("settle-delay")
		if err != nil {
			return nil, err
		}
		cfg.Reconcile.SettleDelay = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.config, "config", "c", "", "Path to config file")
	f.StringVar(&serveFlags.adminAddress, "admin-address", "", "Admin API listen address")
	f.StringVar(&serveFlags.engineAddress, "engine-address", "", "Default engine listen address")
	f.StringVar(&serveFlags.assetsDir, "assets-dir", "", "Directory served by asset:// descriptors")
	f.StringVar(&serveFlags.prefsBackend, "prefs-backend", "", "Preferences backend (memory, file, sqlite)")
	f.StringVar(&serveFlags.prefsPath, "prefs-path", "", "Preferences file or database path")
	f.StringVar(&serveFlags.mqttBroker, "mqtt-broker", "", "MQTT broker URL for the command bridge")
	f.StringVar(&serveFlags.embeddedBroker, "embedded-broker", "", "Start an MQTT broker on this address")
	f.BoolVar(&serveFlags.noWatch, "no-watch", false, "Do not reload the engine when its configuration file changes")
	f.BoolVar(&serveFlags.noMetrics, "no-metrics", false, "Do not serve /metrics")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&serveFlags.logFormat, "log-format", "", "Log format (text, json)")
	f.StringVar(&serveFlags.logFile, "log-file", "", "Also append logs to this file")
	f.StringVar(&serveFlags.pidFile, "pid-file", "", "PID file path")
	f.Duration("settle-delay", 0, "Wait before reading back engine state after a settings change")
	f.BoolVar(&serveFlags.printConfig, "print-config", false, "Print the effective configuration and exit")
}
