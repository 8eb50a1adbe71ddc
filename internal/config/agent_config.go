package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	internalerrors "github.com/rcourtman/healthdash/internal/errors"
)

// Agent defaults
const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 9838
	DefaultRefreshInterval  = time.Second
	DefaultBlockedThreshold = 10 * time.Millisecond
)

// AgentConfig is resolved once when an agent is constructed.
type AgentConfig struct {
	Host             string
	Port             int
	RefreshInterval  time.Duration
	BlockedThreshold time.Duration
}

// AgentOverrides holds explicitly supplied options. Zero values mean "not
// given" and fall through to the environment, then to defaults.
type AgentOverrides struct {
	Host             string
	Port             int
	RefreshInterval  time.Duration
	BlockedThreshold time.Duration
}

// ResolveAgent applies option > environment > default precedence per field.
func ResolveAgent(opts AgentOverrides, getenv Getenv) (AgentConfig, error) {
	cfg := AgentConfig{
		Host:             DefaultHost,
		Port:             DefaultPort,
		RefreshInterval:  DefaultRefreshInterval,
		BlockedThreshold: DefaultBlockedThreshold,
	}

	if opts.Host != "" {
		cfg.Host = opts.Host
	} else if host := getenv.trim(EnvHost); host != "" {
		cfg.Host = host
	}

	// Environment values are only parsed for fields without an explicit option.
	if opts.Port != 0 {
		cfg.Port = opts.Port
	} else if port, ok, err := envInt(getenv, EnvPort); err != nil {
		return AgentConfig{}, internalerrors.WrapConfigError("resolve_agent_config", EnvPort, err)
	} else if ok {
		cfg.Port = port
	}

	if opts.RefreshInterval != 0 {
		cfg.RefreshInterval = opts.RefreshInterval
	} else if interval, ok, err := envDuration(getenv, EnvRefreshInterval); err != nil {
		return AgentConfig{}, internalerrors.WrapConfigError("resolve_agent_config", EnvRefreshInterval, err)
	} else if ok {
		cfg.RefreshInterval = interval
	}

	if opts.BlockedThreshold != 0 {
		cfg.BlockedThreshold = opts.BlockedThreshold
	} else if threshold, ok, err := envDuration(getenv, EnvBlockedThreshold); err != nil {
		return AgentConfig{}, internalerrors.WrapConfigError("resolve_agent_config", EnvBlockedThreshold, err)
	} else if ok {
		cfg.BlockedThreshold = threshold
	}

	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c AgentConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return internalerrors.WrapConfigError("validate_agent_config", "port", fmt.Errorf("port %d out of range", c.Port))
	}
	if c.RefreshInterval <= 0 {
		return internalerrors.WrapConfigError("validate_agent_config", "refreshInterval", fmt.Errorf("refresh interval must be > 0, got %s", c.RefreshInterval))
	}
	if c.BlockedThreshold <= 0 {
		return internalerrors.WrapConfigError("validate_agent_config", "blockedThreshold", fmt.Errorf("blocked threshold must be > 0, got %s", c.BlockedThreshold))
	}
	return nil
}

// ListenAddr returns host:port for the channel server.
func (c AgentConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
