// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/markers"
)

func TestParseMarkers(t *testing.T) {
	assert.Nil(t, parseMarkers(""))
	assert.Equal(t, []string{"a.b", "c"}, parseMarkers(" a.b, ,c,"))
}

func TestNewLogger(t *testing.T) {
	t.Setenv(envLogLevelKey, "debug")
	assert.True(t, newLogger("").V(4).Enabled())
	assert.False(t, newLogger("error").V(0).Enabled())
	assert.True(t, newLogger("nonsense").Enabled(), "invalid levels keep the info default")
}

func TestRegistryOptions(t *testing.T) {
	opts, err := registryOptions(logr.Discard(), "")
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	path := filepath.Join(t.TempDir(), "markers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_probes: 4\n"), 0o600))
	opts, err = registryOptions(logr.Discard(), path)
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	_, err = registryOptions(logr.Discard(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestProcess(t *testing.T) {
	sum, err := process("resize", 0)
	require.NoError(t, err)
	again, err := process("resize", 1)
	require.NoError(t, err)
	assert.Equal(t, sum, again)

	_, err = process("resize", 6)
	assert.ErrorIs(t, err, errJobFailed)
}

func TestWorkloadFiresMarkers(t *testing.T) {
	reg, err := markers.NewRegistry(markers.WithLogger(logr.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, reg.Close()) })
	require.NoError(t, reg.Load(workloadUnit, workloadSites()...))

	var (
		mu     sync.Mutex
		counts = map[string]int{}
	)
	count := func(probePrivate, _ any, _ string, _ []any) {
		mu.Lock()
		defer mu.Unlock()
		counts[probePrivate.(string)]++
	}
	for _, m := range workloadSites() {
		require.NoError(t, reg.Register(m.Name(), m.Format(), count, m.Name()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w := workload{workers: 2, interval: 5 * time.Millisecond}
	jobs := w.run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, counts["workload.worker_start"])
	assert.Equal(t, 2, counts["workload.worker_stop"])
	assert.Equal(t, int(jobs), counts["workload.job"]+counts["workload.job_failed"])
	assert.Positive(t, jobs)
}
