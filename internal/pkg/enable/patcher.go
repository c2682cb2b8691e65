// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package enable

import "sync"

// Patcher applies queued state changes to patchable call sites.
//
// Implementations backed by real instruction patching must serialize
// Converge against concurrent execution of the patched sites.
type Patcher interface {
	// Queue records the desired state of s. The last request for a site
	// wins.
	Queue(s *State, enabled bool)
	// Converge applies all queued requests and returns the number of sites
	// whose state changed.
	Converge() int
}

// BatchPatcher is the portable [Patcher]. It applies queued requests in
// batches under a single lock.
type BatchPatcher struct {
	mu         sync.Mutex
	pending    map[*State]bool
	order      []*State
	generation uint64
}

var _ Patcher = (*BatchPatcher)(nil)

// NewBatchPatcher returns an empty [BatchPatcher].
func NewBatchPatcher() *BatchPatcher {
	return &BatchPatcher{pending: make(map[*State]bool)}
}

// Queue implements [Patcher].
func (p *BatchPatcher) Queue(s *State, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[s]; !ok {
		p.order = append(p.order, s)
	}
	p.pending[s] = enabled
}

// Converge implements [Patcher].
func (p *BatchPatcher) Converge() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := 0
	for _, s := range p.order {
		want := p.pending[s]
		if s.Enabled() != want {
			s.Store(want)
			changed++
		}
		delete(p.pending, s)
	}
	p.order = p.order[:0]
	if changed > 0 {
		p.generation++
	}
	return changed
}

// Generation returns the number of Converge calls that changed at least one
// site.
func (p *BatchPatcher) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Pending returns the number of sites with a queued request.
func (p *BatchPatcher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}
