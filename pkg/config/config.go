// Package config loads server configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dockhand/dockhand/pkg/log"
)

// DefaultPath is consulted when no config file is given explicitly.
const DefaultPath = "/etc/dockhand/config.yaml"

// Config is the server configuration. Durations are expressed in seconds
// so the same values work in YAML and environment variables.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	DataDir    string `yaml:"dataDir"`
	LogLevel   string `yaml:"logLevel"`

	// InstanceProfile names the IAM instance profile attached to launched
	// instances so their management agent can register.
	InstanceProfile string `yaml:"instanceProfile"`
	PolicyName      string `yaml:"policyName"`
	WorkspacePath   string `yaml:"workspacePath"`

	// TerminateOnFailure tears down the instance when a deployment fails
	// after launch. Off by default: a half-deployed instance is usually
	// worth inspecting before it is destroyed.
	TerminateOnFailure bool `yaml:"terminateOnFailure"`

	RetryAttempts         int `yaml:"retryAttempts"`
	RetryDelaySeconds     int `yaml:"retryDelaySeconds"`
	LaunchTimeoutSeconds  int `yaml:"launchTimeoutSeconds"`
	AddressTimeoutSeconds int `yaml:"addressTimeoutSeconds"`
	PollIntervalSeconds   int `yaml:"pollIntervalSeconds"`
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	return &Config{
		ListenAddr:            ":8080",
		DataDir:               "/var/lib/dockhand",
		LogLevel:              "info",
		PolicyName:            "dockhand-deploy",
		WorkspacePath:         "/opt/dockhand/workspace",
		RetryAttempts:         30,
		RetryDelaySeconds:     10,
		LaunchTimeoutSeconds:  300,
		AddressTimeoutSeconds: 120,
		PollIntervalSeconds:   5,
	}
}

// Load builds the configuration: defaults, then the YAML file, then
// environment overrides. A missing file at the default path is fine; a
// missing file named explicitly is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getString("DOCKHAND_LISTEN_ADDR", c.ListenAddr)
	c.DataDir = getString("DOCKHAND_DATA_DIR", c.DataDir)
	c.LogLevel = getString("DOCKHAND_LOG_LEVEL", c.LogLevel)
	c.InstanceProfile = getString("DOCKHAND_INSTANCE_PROFILE", c.InstanceProfile)
	c.PolicyName = getString("DOCKHAND_POLICY_NAME", c.PolicyName)
	c.WorkspacePath = getString("DOCKHAND_WORKSPACE_PATH", c.WorkspacePath)
	c.TerminateOnFailure = getBool("DOCKHAND_TERMINATE_ON_FAILURE", c.TerminateOnFailure)
	c.RetryAttempts = getInt("DOCKHAND_RETRY_ATTEMPTS", c.RetryAttempts)
	c.RetryDelaySeconds = getInt("DOCKHAND_RETRY_DELAY_SECONDS", c.RetryDelaySeconds)
	c.LaunchTimeoutSeconds = getInt("DOCKHAND_LAUNCH_TIMEOUT_SECONDS", c.LaunchTimeoutSeconds)
	c.AddressTimeoutSeconds = getInt("DOCKHAND_ADDRESS_TIMEOUT_SECONDS", c.AddressTimeoutSeconds)
	c.PollIntervalSeconds = getInt("DOCKHAND_POLL_INTERVAL_SECONDS", c.PollIntervalSeconds)
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retryAttempts must be at least 1, got %d", c.RetryAttempts)
	}
	if c.RetryDelaySeconds < 0 {
		return fmt.Errorf("retryDelaySeconds must not be negative, got %d", c.RetryDelaySeconds)
	}
	if c.LaunchTimeoutSeconds < 1 {
		return fmt.Errorf("launchTimeoutSeconds must be at least 1, got %d", c.LaunchTimeoutSeconds)
	}
	if c.AddressTimeoutSeconds < 1 {
		return fmt.Errorf("addressTimeoutSeconds must be at least 1, got %d", c.AddressTimeoutSeconds)
	}
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("pollIntervalSeconds must be at least 1, got %d", c.PollIntervalSeconds)
	}
	return nil
}

// RetryDelay returns the remote command retry delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// LaunchTimeout returns the instance launch wait budget.
func (c *Config) LaunchTimeout() time.Duration {
	return time.Duration(c.LaunchTimeoutSeconds) * time.Second
}

// AddressTimeout returns the public address wait budget.
func (c *Config) AddressTimeout() time.Duration {
	return time.Duration(c.AddressTimeoutSeconds) * time.Second
}

// PollInterval returns the instance state polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func getString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			logger := log.WithComponent("config")
			logger.Warn().Str("key", key).Str("value", value).Msg("Ignoring invalid integer override")
			return fallback
		}
		return parsed
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			logger := log.WithComponent("config")
			logger.Warn().Str("key", key).Str("value", value).Msg("Ignoring invalid boolean override")
			return fallback
		}
		return parsed
	}
	return fallback
}
