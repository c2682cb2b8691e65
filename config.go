// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package markers

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"go.opentelemetry.io/markers/internal/pkg/enable"
)

const (
	// envLogLevelKey is the key for the environment variable value containing
	// the log level.
	envLogLevelKey = "OTEL_LOG_LEVEL"
	// envConfigKey is the key for the environment variable value pointing to
	// a YAML configuration file.
	envConfigKey = "OTEL_GO_MARKERS_CONFIG"

	// defaultReclaimThreshold is the number of retired dispatch tables after
	// which a registration waits for a grace period itself.
	defaultReclaimThreshold = 64
)

// Config is the file-level configuration of a [Registry].
type Config struct {
	// LogLevel is the level of the default logger. It is ignored when a
	// logger is passed with WithLogger.
	LogLevel LogLevel `yaml:"log_level"`
	// ForceVariableRead loads Patchable markers as VariableRead markers.
	ForceVariableRead bool `yaml:"force_variable_read"`
	// MaxProbes limits the number of probes attached to a single marker.
	// Zero means unlimited.
	MaxProbes int `yaml:"max_probes"`
	// ReclaimThreshold is the number of retired dispatch tables kept before
	// they are reclaimed inline. Zero selects the default.
	ReclaimThreshold int `yaml:"reclaim_threshold"`
}

// LoadConfig reads a YAML [Config] from path. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, c.validate()
}

func (c Config) validate() error {
	var err error
	if c.LogLevel != logLevelUndefined {
		err = errors.Join(err, c.LogLevel.validate())
	}
	if c.MaxProbes < 0 {
		err = errors.Join(err, fmt.Errorf("negative max_probes: %d", c.MaxProbes))
	}
	if c.ReclaimThreshold < 0 {
		err = errors.Join(err, fmt.Errorf("negative reclaim_threshold: %d", c.ReclaimThreshold))
	}
	return err
}

// merge returns c with the non-zero fields of o applied.
func (c Config) merge(o Config) Config {
	if o.LogLevel != logLevelUndefined {
		c.LogLevel = o.LogLevel
	}
	if o.ForceVariableRead {
		c.ForceVariableRead = true
	}
	if o.MaxProbes != 0 {
		c.MaxProbes = o.MaxProbes
	}
	if o.ReclaimThreshold != 0 {
		c.ReclaimThreshold = o.ReclaimThreshold
	}
	return c
}

// Patcher applies enablement changes to [Patchable] markers. Implementations
// that rewrite code in place can replace the portable default with
// WithPatcher.
type Patcher = enable.Patcher

// PatchState is the state word of a patchable call site, as handed to a
// [Patcher].
type PatchState = enable.State

// RegistryOption applies a configuration option to [Registry].
type RegistryOption interface {
	apply(registryConfig) registryConfig
}

type registryConfig struct {
	Config

	logger  *logr.Logger
	patcher Patcher
}

func newRegistryConfig(opts []RegistryOption) (registryConfig, error) {
	var c registryConfig
	for _, opt := range opts {
		c = opt.apply(c)
	}

	c, err := c.applyEnv()
	if err != nil {
		return c, err
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c.applyDefaults(), nil
}

func (c registryConfig) applyEnv() (registryConfig, error) {
	if path, ok := os.LookupEnv(envConfigKey); ok && path != "" {
		fc, err := LoadConfig(path)
		if err != nil {
			return c, err
		}
		c.Config = c.Config.merge(fc)
	}
	if v, ok := os.LookupEnv(envLogLevelKey); ok {
		l, err := ParseLogLevel(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", envLogLevelKey, err)
		}
		c.LogLevel = l
	}
	return c, nil
}

func (c registryConfig) applyDefaults() registryConfig {
	if c.ReclaimThreshold == 0 {
		c.ReclaimThreshold = defaultReclaimThreshold
	}
	if c.patcher == nil {
		c.patcher = enable.NewBatchPatcher()
	}
	if c.logger == nil {
		l := newLogger(c.LogLevel)
		c.logger = &l
	}
	return c
}

func newLogger(level LogLevel) logr.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: level.slogLevel()}
	return logr.FromSlogHandler(slog.NewJSONHandler(os.Stderr, opts))
}

type fnOpt func(registryConfig) registryConfig

func (o fnOpt) apply(c registryConfig) registryConfig { return o(c) }

// WithLogger returns a [RegistryOption] that configures the logger used by
// the [Registry].
func WithLogger(logger logr.Logger) RegistryOption {
	return fnOpt(func(c registryConfig) registryConfig {
		c.logger = &logger
		return c
	})
}

// WithLogLevel returns a [RegistryOption] that sets the level of the default
// logger.
//
// If OTEL_LOG_LEVEL is defined it will take precedence over any value passed
// here.
func WithLogLevel(level LogLevel) RegistryOption {
	return fnOpt(func(c registryConfig) registryConfig {
		c.LogLevel = level
		return c
	})
}

// WithConfig returns a [RegistryOption] applying the non-zero fields of cfg.
//
// If OTEL_GO_MARKERS_CONFIG names a configuration file, its values take
// precedence over any value passed here.
func WithConfig(cfg Config) RegistryOption {
	return fnOpt(func(c registryConfig) registryConfig {
		c.Config = c.Config.merge(cfg)
		return c
	})
}

// WithMaxProbes returns a [RegistryOption] limiting the number of probes a
// single marker accepts. Registrations beyond the limit fail with
// [ErrAllocationFailure].
func WithMaxProbes(n int) RegistryOption {
	return fnOpt(func(c registryConfig) registryConfig {
		c.MaxProbes = n
		return c
	})
}

// WithPatcher returns a [RegistryOption] that sets the [Patcher] converging
// [Patchable] markers.
func WithPatcher(p Patcher) RegistryOption {
	return fnOpt(func(c registryConfig) registryConfig {
		c.patcher = p
		return c
	})
}
