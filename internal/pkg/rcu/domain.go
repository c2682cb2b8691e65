// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package rcu provides grace periods for data published to lock-free
// readers.
//
// Readers bracket their access with [Domain.ReadLock] and
// [Domain.ReadUnlock]. A writer that has replaced a published value calls
// [Domain.Synchronize] (or queues work with [Domain.Retire]) before reusing
// the old one: Synchronize returns only after every reader that could have
// observed the old value has left its critical section.
package rcu

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"
)

const (
	// spinRounds is the number of yields before a waiter starts sleeping.
	spinRounds = 64
	// maxBackoff bounds the sleep between two polls of a reader counter.
	maxBackoff = time.Millisecond
	// shards is the number of reader counters per epoch parity. Must be a
	// power of two.
	shards = 32
)

type counter struct {
	n atomic.Int64
	_ cpu.CacheLinePad
}

// Domain tracks the readers of one set of published values.
//
// The zero value is ready to use.
type Domain struct {
	epoch atomic.Uint32
	_     cpu.CacheLinePad
	// readers is indexed by the low bit of epoch, then by a shard picked
	// at random by each reader so concurrent readers rarely share a line.
	readers [2][shards]counter

	syncMu sync.Mutex

	retireMu sync.Mutex
	retired  *queue.Queue
}

// ReadLock enters a read-side critical section. The returned value must be
// passed to the matching ReadUnlock.
func (d *Domain) ReadLock() uint32 {
	shard := rand.Uint32() & (shards - 1)
	idx := d.epoch.Load() & 1
	d.readers[idx][shard].n.Add(1)
	return shard<<1 | idx
}

// ReadUnlock leaves the read-side critical section entered by ReadLock.
func (d *Domain) ReadUnlock(token uint32) {
	d.readers[token&1][token>>1].n.Add(-1)
}

// Synchronize waits for all read-side critical sections that were in
// progress when it was called, then runs the callbacks retired before the
// call.
//
// Concurrent calls are safe: each one detaches the callbacks queued when it
// started and runs only those.
//
// It must not be called from within a read-side critical section.
func (d *Domain) Synchronize() {
	d.retireMu.Lock()
	batch := d.retired
	d.retired = nil
	d.retireMu.Unlock()

	d.syncMu.Lock()
	// A reader may load the epoch just before a flip and increment the
	// counter just after it; the second flip waits for such readers.
	d.flip()
	d.flip()
	d.syncMu.Unlock()

	if batch == nil {
		return
	}
	for batch.Length() > 0 {
		batch.Remove().(func())()
	}
}

// Retire queues fn to run after the next grace period. Values that fn
// recycles must already have been unpublished.
func (d *Domain) Retire(fn func()) {
	d.retireMu.Lock()
	defer d.retireMu.Unlock()
	if d.retired == nil {
		d.retired = queue.New()
	}
	d.retired.Add(fn)
}

// Pending returns the number of retired callbacks not yet claimed by a
// grace period.
func (d *Domain) Pending() int {
	d.retireMu.Lock()
	defer d.retireMu.Unlock()
	if d.retired == nil {
		return 0
	}
	return d.retired.Length()
}

// Readers returns the number of readers currently inside a critical
// section.
func (d *Domain) Readers() int64 {
	var n int64
	for i := range d.readers {
		for j := range d.readers[i] {
			n += d.readers[i][j].n.Load()
		}
	}
	return n
}

// flip advances the epoch and waits for the readers of the previous parity.
// Each reader increments and decrements the same shard, so waiting for
// every shard to drain in turn is enough.
func (d *Domain) flip() {
	idx := (d.epoch.Add(1) - 1) & 1
	for i := range d.readers[idx] {
		wait(&d.readers[idx][i].n)
	}
}

func wait(n *atomic.Int64) {
	backoff := time.Microsecond
	for i := 0; n.Load() != 0; i++ {
		if i < spinRounds {
			runtime.Gosched()
			continue
		}
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
