// Package config holds process-level overrides read from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Env is populated from DUOPANE_* variables
type Env struct {
	DataDir      string `envconfig:"DATA_DIR" default:""`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	DisableRsync bool   `envconfig:"DISABLE_RSYNC" default:"false"`
}

// FromEnv reads the environment overrides
func FromEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("DUOPANE", &env); err != nil {
		return Env{}, fmt.Errorf("failed to load environment config: %w", err)
	}
	return env, nil
}

// DefaultDataDir returns ~/.duopane
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".duopane"), nil
}

// ResolveDataDir picks the flag value, then the environment, then the default
func ResolveDataDir(flagValue string, env Env) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env.DataDir != "" {
		return env.DataDir, nil
	}
	return DefaultDataDir()
}
