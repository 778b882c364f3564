// Package config loads and validates the hub configuration. Settings come
// from an optional TOML file, overridden by environment variables so the
// server can be configured entirely from the environment in containers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ConfigParam holds all configuration parameters for the hub service.
type ConfigParam struct {
	Port                 int      `toml:"port" validate:"min=1,max=65535"`
	Host                 string   `toml:"host"`
	AuthBaseDir          string   `toml:"auth_base_dir" validate:"required"`
	LogLevel             string   `toml:"log_level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	ReconnectTimeoutMS   int      `toml:"reconnect_timeout_ms" validate:"min=1"`
	ReconnectMaxAttempts uint     `toml:"reconnect_max_attempts" validate:"min=1"`
	BroadcastIntervalMS  int      `toml:"broadcast_interval_ms" validate:"min=1"`
	HandleCORS           bool     `toml:"handle_cors"`
	CORSOrigins          []string `toml:"cors_origins"`
	InstancePrefix       string   `toml:"instance_prefix"`
	MaxInstances         int      `toml:"max_instances" validate:"min=0"`
}

var cfg *ConfigParam

// Config returns the current configuration. LoadConfig must have been called.
func Config() *ConfigParam {
	return cfg
}

// ReconnectTimeout returns the initial reconnect delay.
func (c *ConfigParam) ReconnectTimeout() time.Duration {
	return time.Duration(c.ReconnectTimeoutMS) * time.Millisecond
}

// BroadcastInterval returns the status broadcast refresh period.
func (c *ConfigParam) BroadcastInterval() time.Duration {
	return time.Duration(c.BroadcastIntervalMS) * time.Millisecond
}

// AuthDirFor derives the credential directory for an instance id, applying
// the configured instance prefix.
func (c *ConfigParam) AuthDirFor(instanceID string) string {
	name := instanceID
	if c.InstancePrefix != "" {
		name = c.InstancePrefix + "-" + instanceID
	}
	return filepath.Join(".", c.AuthBaseDir+"-"+name)
}

// Default returns the built-in defaults, matching the documented environment
// variable defaults.
func Default() *ConfigParam {
	return &ConfigParam{
		Port:                 3000,
		Host:                 "localhost",
		AuthBaseDir:          ".whatsapp-auth",
		LogLevel:             "info",
		ReconnectTimeoutMS:   5000,
		ReconnectMaxAttempts: 10,
		BroadcastIntervalMS:  1000,
		HandleCORS:           true,
		CORSOrigins:          []string{"*"},
		InstancePrefix:       "",
		MaxInstances:         0,
	}
}

// LoadConfig loads configuration from the optional TOML file at filename
// (empty means defaults only), applies environment variable overrides, and
// validates the result. A .env file in the working directory is honored.
func LoadConfig(filename string) error {
	_ = godotenv.Load() // no error if .env doesn't exist

	c := Default()
	if filename != "" {
		content, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if _, err := toml.Decode(string(content), c); err != nil {
			return fmt.Errorf("error parsing config file: %w", err)
		}
	}
	applyEnv(c)

	if err := ValidateConfig(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = c
	return nil
}

// SetTestConfig installs a configuration directly. Test helper.
func SetTestConfig(c *ConfigParam) {
	cfg = c
}

// ValidateConfig checks that all configuration values are present and valid.
func ValidateConfig(c *ConfigParam) error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	return nil
}

func applyEnv(c *ConfigParam) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("AUTH_BASE_DIR"); v != "" {
		c.AuthBaseDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("RECONNECT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ReconnectTimeoutMS = n
		}
	}
	if v := os.Getenv("RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ReconnectMaxAttempts = uint(n)
		}
	}
	if v := os.Getenv("BROADCAST_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BroadcastIntervalMS = n
		}
	}
	if v := os.Getenv("ENABLE_CORS"); v != "" {
		c.HandleCORS = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		if v == "*" {
			c.CORSOrigins = []string{"*"}
		} else {
			var origins []string
			for _, o := range strings.Split(v, ",") {
				if o = strings.TrimSpace(o); o != "" {
					origins = append(origins, o)
				}
			}
			c.CORSOrigins = origins
		}
	}
	if v := os.Getenv("INSTANCE_PREFIX"); v != "" {
		c.InstancePrefix = v
	}
	if v := os.Getenv("MAX_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxInstances = n
		}
	}
}
