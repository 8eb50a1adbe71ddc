package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment keys understood by the agent and the viewer.
const (
	EnvHost             = "HEALTHDASH_HOST"
	EnvPort             = "HEALTHDASH_PORT"
	EnvRefreshInterval  = "HEALTHDASH_REFRESH_INTERVAL"
	EnvBlockedThreshold = "HEALTHDASH_BLOCKED_THRESHOLD"
	EnvURL              = "HEALTHDASH_URL"
	EnvWindowSize       = "HEALTHDASH_WINDOW_SIZE"
	EnvLogWindowSize    = "HEALTHDASH_LOG_WINDOW_SIZE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
)

// Getenv looks up an environment variable; os.Getenv satisfies it.
type Getenv func(string) string

func (g Getenv) trim(key string) string {
	if g == nil {
		g = os.Getenv
	}
	return strings.TrimSpace(g(key))
}

// envInt returns the integer at key; ok is false when the key is unset.
func envInt(getenv Getenv, key string) (value int, ok bool, err error) {
	raw := getenv.trim(key)
	if raw == "" {
		return 0, false, nil
	}
	value, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s=%q is not an integer", key, raw)
	}
	return value, true, nil
}

// envDuration accepts Go durations ("250ms", "2s") or bare integers, which
// are read as milliseconds.
func envDuration(getenv Getenv, key string) (value time.Duration, ok bool, err error) {
	raw := getenv.trim(key)
	if raw == "" {
		return 0, false, nil
	}
	if ms, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
		return time.Duration(ms) * time.Millisecond, true, nil
	}
	value, err = time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s=%q is not a duration", key, raw)
	}
	return value, true, nil
}

// LoadEnvFiles loads each existing file into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) ([]string, error) {
	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("stat env file %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, fmt.Errorf("load env file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}
