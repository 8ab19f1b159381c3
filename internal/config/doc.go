// Package config loads and saves the pulsemeter configuration file.
//
// The file is YAML and lists the meter bridges to connect to, the shared
// reconnect policy and optional MQTT forwarding. It follows OS-specific
// conventions for its location:
//   - Linux: $XDG_CONFIG_HOME/pulsemeter/config.yaml or $HOME/.config/pulsemeter/config.yaml
//   - macOS: $HOME/.config/pulsemeter/config.yaml
//   - Windows: %LOCALAPPDATA%\pulsemeter\config.yaml
//
// # Example
//
//	version: 1
//	log_level: info
//	meters:
//	  - name: house
//	    host: 192.168.1.40
//	    password: ABCD-1234
//	backoff:
//	  initial: 1s
//	  max: 1m
//	mqtt:
//	  broker: tcp://localhost:1883
//
// # Security
//
// Passwords are optional in the file. When a meter has none, the CLI
// prompts for it on the terminal. Bridges speak plain ws://, so credentials
// travel unencrypted on the local network.
package config
