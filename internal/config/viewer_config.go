package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	internalerrors "github.com/rcourtman/healthdash/internal/errors"
)

// Viewer defaults
const (
	DefaultWindowSize    = 60
	DefaultLogWindowSize = 500
	DefaultReconnectBase = 500 * time.Millisecond
	DefaultReconnectMax  = 10 * time.Second
)

// ViewerConfig controls a metrics provider.
type ViewerConfig struct {
	URL           string
	WindowSize    int
	LogWindowSize int
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// ViewerOverrides holds explicitly supplied viewer options; zero means unset.
type ViewerOverrides struct {
	URL           string
	WindowSize    int
	LogWindowSize int
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// ResolveViewer applies option > environment > default precedence. Without
// an explicit URL the viewer targets the local agent port.
func ResolveViewer(opts ViewerOverrides, getenv Getenv) (ViewerConfig, error) {
	cfg := ViewerConfig{
		WindowSize:    DefaultWindowSize,
		LogWindowSize: DefaultLogWindowSize,
		ReconnectBase: DefaultReconnectBase,
		ReconnectMax:  DefaultReconnectMax,
	}

	// The agent port only matters when no URL is given anywhere.
	switch {
	case opts.URL != "":
		cfg.URL = opts.URL
	case getenv.trim(EnvURL) != "":
		cfg.URL = getenv.trim(EnvURL)
	default:
		port := DefaultPort
		if p, ok, err := envInt(getenv, EnvPort); err != nil {
			return ViewerConfig{}, internalerrors.WrapConfigError("resolve_viewer_config", EnvPort, err)
		} else if ok {
			port = p
		}
		cfg.URL = "ws://" + DefaultHost + ":" + strconv.Itoa(port) + "/"
	}

	if opts.WindowSize != 0 {
		cfg.WindowSize = opts.WindowSize
	} else if size, ok, err := envInt(getenv, EnvWindowSize); err != nil {
		return ViewerConfig{}, internalerrors.WrapConfigError("resolve_viewer_config", EnvWindowSize, err)
	} else if ok {
		cfg.WindowSize = size
	}

	if opts.LogWindowSize != 0 {
		cfg.LogWindowSize = opts.LogWindowSize
	} else if size, ok, err := envInt(getenv, EnvLogWindowSize); err != nil {
		return ViewerConfig{}, internalerrors.WrapConfigError("resolve_viewer_config", EnvLogWindowSize, err)
	} else if ok {
		cfg.LogWindowSize = size
	}

	if opts.ReconnectBase != 0 {
		cfg.ReconnectBase = opts.ReconnectBase
	}
	if opts.ReconnectMax != 0 {
		cfg.ReconnectMax = opts.ReconnectMax
	}

	if err := cfg.Validate(); err != nil {
		return ViewerConfig{}, err
	}
	return cfg, nil
}

// Validate checks the URL scheme and window sizes.
func (c ViewerConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return internalerrors.WrapConfigError("validate_viewer_config", "url", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return internalerrors.WrapConfigError("validate_viewer_config", "url", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return internalerrors.WrapConfigError("validate_viewer_config", "url", fmt.Errorf("missing host in %q", c.URL))
	}
	if c.WindowSize < 1 {
		return internalerrors.WrapConfigError("validate_viewer_config", "windowSize", fmt.Errorf("window size must be >= 1, got %d", c.WindowSize))
	}
	if c.LogWindowSize < 1 {
		return internalerrors.WrapConfigError("validate_viewer_config", "logWindowSize", fmt.Errorf("log window size must be >= 1, got %d", c.LogWindowSize))
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		return internalerrors.WrapConfigError("validate_viewer_config", "reconnect", fmt.Errorf("invalid reconnect backoff %s..%s", c.ReconnectBase, c.ReconnectMax))
	}
	return nil
}
