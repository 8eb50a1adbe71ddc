package config

import (
	"testing"
	"time"

	internalerrors "github.com/rcourtman/healthdash/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveViewer_Defaults(t *testing.T) {
	cfg, err := ResolveViewer(ViewerOverrides{}, mapEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:9838/", cfg.URL)
	assert.Equal(t, DefaultWindowSize, cfg.WindowSize)
	assert.Equal(t, DefaultLogWindowSize, cfg.LogWindowSize)
	assert.Equal(t, DefaultReconnectBase, cfg.ReconnectBase)
	assert.Equal(t, DefaultReconnectMax, cfg.ReconnectMax)
}

func TestResolveViewer_URLFollowsAgentPort(t *testing.T) {
	cfg, err := ResolveViewer(ViewerOverrides{}, mapEnv(map[string]string{EnvPort: "9900"}))
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9900/", cfg.URL)
}

func TestResolveViewer_OptionSkipsInvalidEnvironment(t *testing.T) {
	env := mapEnv(map[string]string{
		EnvPort:          "not-a-port",
		EnvWindowSize:    "many",
		EnvLogWindowSize: "x",
	})

	cfg, err := ResolveViewer(ViewerOverrides{URL: "ws://127.0.0.1:9000/", WindowSize: 5, LogWindowSize: 7}, env)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9000/", cfg.URL)
	assert.Equal(t, 5, cfg.WindowSize)
	assert.Equal(t, 7, cfg.LogWindowSize)
}

func TestResolveViewer_EnvironmentURLSkipsPort(t *testing.T) {
	cfg, err := ResolveViewer(ViewerOverrides{}, mapEnv(map[string]string{
		EnvURL:  "ws://10.0.0.5:9000/",
		EnvPort: "not-a-port",
	}))
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:9000/", cfg.URL)

	_, err = ResolveViewer(ViewerOverrides{}, mapEnv(map[string]string{EnvPort: "not-a-port"}))
	require.Error(t, err)
	assert.True(t, internalerrors.IsConfigError(err))
}

func TestResolveViewer_Precedence(t *testing.T) {
	env := mapEnv(map[string]string{
		EnvURL:        "ws://10.0.0.5:9000/",
		EnvWindowSize: "5",
	})

	cfg, err := ResolveViewer(ViewerOverrides{URL: "ws://localhost:9100/", ReconnectBase: time.Second, ReconnectMax: 2 * time.Second}, env)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:9100/", cfg.URL)
	assert.Equal(t, 5, cfg.WindowSize)
	assert.Equal(t, time.Second, cfg.ReconnectBase)
	assert.Equal(t, 2*time.Second, cfg.ReconnectMax)
}

func TestResolveViewer_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		opts ViewerOverrides
	}{
		{"http scheme", nil, ViewerOverrides{URL: "http://localhost:9838/"}},
		{"missing host", nil, ViewerOverrides{URL: "ws:///"}},
		{"window size text", map[string]string{EnvWindowSize: "many"}, ViewerOverrides{}},
		{"negative window", nil, ViewerOverrides{WindowSize: -2}},
		{"log window text", map[string]string{EnvLogWindowSize: "x"}, ViewerOverrides{}},
		{"max below base", nil, ViewerOverrides{ReconnectBase: time.Second, ReconnectMax: time.Millisecond}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolveViewer(tc.opts, mapEnv(tc.env))
			require.Error(t, err)
			assert.True(t, internalerrors.IsConfigError(err))
		})
	}
}
