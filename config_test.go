// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package markers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/markers/internal/pkg/enable"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
force_variable_read: true
max_probes: 8
reclaim_threshold: 4
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		LogLevel:          LogLevelDebug,
		ForceVariableRead: true,
		MaxProbes:         8,
		ReclaimThreshold:  4,
	}, c)
}

func TestLoadConfigErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "unknown key", content: "max_probe: 3\n"},
		{name: "invalid level", content: "log_level: loud\n"},
		{name: "negative max probes", content: "max_probes: -1\n"},
		{name: "negative threshold", content: "reclaim_threshold: -2\n"},
		{name: "not yaml", content: "log_level: [\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestRegistryConfigDefaults(t *testing.T) {
	c, err := newRegistryConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultReclaimThreshold, c.ReclaimThreshold)
	assert.NotNil(t, c.logger)
	assert.IsType(t, &enable.BatchPatcher{}, c.patcher)
}

func TestRegistryConfigOptions(t *testing.T) {
	p := enable.NewBatchPatcher()
	c, err := newRegistryConfig([]RegistryOption{
		WithConfig(Config{MaxProbes: 2, ReclaimThreshold: 3}),
		WithMaxProbes(5),
		WithLogLevel(LogLevelWarn),
		WithPatcher(p),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, c.MaxProbes, "last option wins")
	assert.Equal(t, 3, c.ReclaimThreshold)
	assert.Equal(t, LogLevelWarn, c.LogLevel)
	assert.Same(t, p, c.patcher)
}

func TestRegistryConfigEnv(t *testing.T) {
	path := writeConfig(t, "max_probes: 7\nlog_level: error\n")
	t.Setenv(envConfigKey, path)
	t.Setenv(envLogLevelKey, "debug")

	c, err := newRegistryConfig([]RegistryOption{WithMaxProbes(2), WithLogLevel(LogLevelInfo)})
	require.NoError(t, err)
	assert.Equal(t, 7, c.MaxProbes, "config file takes precedence over options")
	assert.Equal(t, LogLevelDebug, c.LogLevel, "OTEL_LOG_LEVEL takes precedence over the file")
}

func TestRegistryConfigEnvInvalid(t *testing.T) {
	t.Setenv(envLogLevelKey, "loud")
	_, err := NewRegistry()
	assert.ErrorIs(t, err, errInvalidLogLevel)
}

func TestRegistryConfigInvalidOption(t *testing.T) {
	_, err := NewRegistry(WithMaxProbes(-1))
	assert.Error(t, err)
}
