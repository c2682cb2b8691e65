// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/markers"
)

const workloadUnit = "workload"

var (
	workerStart = markers.Declare("workload.worker_start", "%d")
	jobDone     = markers.Declare("workload.job", "%d %s %d %x")
	jobFailed   = markers.Declare("workload.job_failed", "%d %s %s")
	workerStop  = markers.Declare("workload.worker_stop", "%d %d")
)

func workloadSites() []*markers.Marker {
	return []*markers.Marker{workerStart, jobDone, jobFailed, workerStop}
}

var jobNames = []string{"resize", "checksum", "compress", "index", "notify"}

var errJobFailed = errors.New("job failed")

type workload struct {
	workers  int
	interval time.Duration
}

// run starts the workers and blocks until ctx is done. It returns the number
// of jobs processed.
func (w workload) run(ctx context.Context) int64 {
	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	for id := 0; id < w.workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			total.Add(int64(w.worker(ctx, id)))
		}(id)
	}
	wg.Wait()
	return total.Load()
}

func (w workload) worker(ctx context.Context, id int) int {
	workerStart.Fire(ctx, id)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			workerStop.Fire(ctx, id, n)
			return n
		case <-ticker.C:
		}

		name := jobNames[(id+n)%len(jobNames)]
		start := time.Now()
		sum, err := process(name, n)
		n++

		if err != nil {
			if jobFailed.Enabled() {
				jobFailed.Fire(ctx, id, name, err)
			}
			continue
		}
		if jobDone.Enabled() {
			jobDone.Fire(ctx, id, name, time.Since(start).Microseconds(), sum)
		}
	}
}

// process checksums a job name. Every seventh job of a worker fails.
func process(name string, seq int) (uint64, error) {
	if (seq+1)%7 == 0 {
		return 0, errJobFailed
	}
	h := fnv.New64a()
	for i := 0; i < 1000; i++ {
		_, _ = h.Write([]byte(name))
	}
	return h.Sum64(), nil
}
