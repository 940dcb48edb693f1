// Package config defines the daemon's flat configuration record
// (spec.md §6). File load/save and the CLI surface around it are out of
// scope (spec.md §1); this package owns the struct, its defaults, and
// the validation the coordinator relies on at startup.
package config

import (
	"encoding/json"
	"time"

	"github.com/beriberikix/usbipd-mac/netutil"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// LogLevel mirrors spec.md §6's enumerated log levels.
type LogLevel string

const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
		return true
	default:
		return false
	}
}

// Config is the daemon's flat, JSON-serializable configuration record.
type Config struct {
	Port              uint16        `json:"port"`
	LogLevel          LogLevel      `json:"logLevel"`
	DebugMode         bool          `json:"debugMode"`
	MaxConnections    int           `json:"maxConnections"`
	ConnectionTimeout time.Duration `json:"connectionTimeout"`
	AllowedDevices    []string      `json:"allowedDevices"`
	AutoBindDevices   bool          `json:"autoBindDevices"`
	LogFilePath       string        `json:"logFilePath,omitempty"`
}

// Default returns the configuration spec.md §6's defaults table
// describes.
func Default() Config {
	return Config{
		Port:              3240,
		LogLevel:          LogLevelInfo,
		DebugMode:         false,
		MaxConnections:    10,
		ConnectionTimeout: 30 * time.Second,
		AllowedDevices:    nil,
		AutoBindDevices:   false,
	}
}

// Validate checks the fields spec.md §6 says must be validated on load:
// invalid port, max-connections, or connection-timeout.
func (c Config) Validate() error {
	if !netutil.ValidatePort(int(c.Port)) {
		return usbiperr.Wrap(usbiperr.KindInitializationFailed, "port out of range", usbiperr.New(usbiperr.KindBindFailed, "port must be 1-65535"))
	}
	if c.MaxConnections < 1 {
		return usbiperr.New(usbiperr.KindInitializationFailed, "maxConnections must be >= 1")
	}
	if c.ConnectionTimeout <= 0 {
		return usbiperr.New(usbiperr.KindInitializationFailed, "connectionTimeout must be > 0")
	}
	if c.LogLevel != "" && !c.LogLevel.valid() {
		return usbiperr.New(usbiperr.KindInitializationFailed, "unrecognized logLevel")
	}
	return nil
}

// IsAllowed reports whether busID may be listed/imported: an empty
// AllowedDevices means all devices are allowed, otherwise it is a
// whitelist.
func (c Config) IsAllowed(busID string) bool {
	if len(c.AllowedDevices) == 0 {
		return true
	}
	for _, allowed := range c.AllowedDevices {
		if allowed == busID {
			return true
		}
	}
	return false
}

// Marshal serializes the config to its JSON wire form.
func (c Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Unmarshal parses and validates a JSON configuration record.
func Unmarshal(data []byte) (Config, error) {
	c := Default()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, usbiperr.Wrap(usbiperr.KindInitializationFailed, "failed to parse configuration", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
