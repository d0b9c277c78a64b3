package config

import "time"

// TimeoutConfig holds timeout settings for storage operations.
// These can be configured via CLI flags or the config file.
type TimeoutConfig struct {
	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY. Default: 5s
	BusyTimeout time.Duration

	// ShutdownDrain bounds how long shutdown waits for in-flight
	// operations to finish. Default: 10s
	ShutdownDrain time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		BusyTimeout:   5 * time.Second,
		ShutdownDrain: 10 * time.Second,
	}
}

// global instance that can be set at startup
var globalTimeouts = DefaultTimeoutConfig()

// SetGlobalTimeouts sets the global timeout configuration
func SetGlobalTimeouts(cfg *TimeoutConfig) {
	if cfg == nil {
		cfg = DefaultTimeoutConfig()
	}
	globalTimeouts = cfg
}

// GetTimeouts returns the global timeout configuration
func GetTimeouts() *TimeoutConfig {
	return globalTimeouts
}
