package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "pulsemeter"
	configFile = "config.yaml"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/pulsemeter or $HOME/.config/pulsemeter
//   - macOS: $HOME/.config/pulsemeter (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\pulsemeter
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			// Fallback to USERPROFILE\AppData\Local if LOCALAPPDATA not set
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// resolvePath returns path, or the default location when path is empty.
func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return GetConfigPath()
}

// Load reads the configuration file at path (the default location when
// empty) and applies defaults. A missing file yields an empty
// configuration. The result is not validated.
func Load(path string) (*File, error) {
	configPath, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return NewFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a configuration document and applies defaults.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if f.Version != 0 && f.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", f.Version, CurrentVersion)
	}
	if f.Meters == nil {
		f.Meters = []*Meter{}
	}
	f.ApplyDefaults()
	return &f, nil
}

// Save writes f to path (the default location when empty). The write is
// atomic: a temporary file is renamed over the old one.
func Save(path string, f *File) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	configPath, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	// User-only permissions, the file may hold meter passwords
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# pulsemeter configuration
#
# Meter passwords stored here are kept in plain text. Leave password
# empty to be prompted on start.
#
# Location: ` + configPath + `

`)
	data = append(header, data...)

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// DefaultCaptureDir is where capture files go unless a directory is given.
func DefaultCaptureDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "captures"), nil
}
