// Package config loads the mockctl daemon configuration.
//
// Values are layered, lowest precedence first:
//
//  1. built-in defaults (Default)
//  2. a YAML file: --config, $MOCKCTL_CONFIG, ./.mockctl.yaml or
//     $XDG_CONFIG_HOME/mockctl/config.yaml
//  3. MOCKCTL_* environment variables
//  4. command-line flags, applied by the CLI
//
// Example:
//
//	admin:
//	  address: 127.0.0.1:4290
//	engine:
//	  address: 127.0.0.1:4280
//	  recordingsFile: ~/.local/share/mockctl/recordings.json
//	assetsDir: ./assets
//	resolver:
//	  httpTimeout: 30s
//	prefs:
//	  backend: sqlite
//	reconcile:
//	  settleDelay: 200ms
//	mqtt:
//	  enabled: true
//	  broker: tcp://127.0.0.1:1883
//	  topic: mockctl
//	watch:
//	  enabled: true
//	  debounce: 250ms
//	log:
//	  level: debug
//	  format: json
package config
