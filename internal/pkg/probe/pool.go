// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTableFull is returned when a table would exceed the allocator limit.
var ErrTableFull = errors.New("probe table full")

// maxFree bounds the number of retired buffers a Pool keeps for reuse.
const maxFree = 32

// Allocator provides storage for multi-mode tables.
type Allocator interface {
	// Alloc returns a slice of length n.
	Alloc(n int) ([]Closure, error)
	// Free returns a slice obtained from Alloc once no reader can observe
	// it anymore.
	Free([]Closure)
}

// Pool is an [Allocator] that recycles retired buffers.
type Pool struct {
	limit int

	mu   sync.Mutex
	free [][]Closure
}

var _ Allocator = (*Pool)(nil)

// NewPool returns a [Pool] handing out tables of at most limit closures. A
// limit of zero or less means unbounded.
func NewPool(limit int) *Pool {
	return &Pool{limit: limit}
}

// Alloc implements [Allocator].
func (p *Pool) Alloc(n int) ([]Closure, error) {
	if p.limit > 0 && n > p.limit {
		return nil, fmt.Errorf("%w: %d closures, limit %d", ErrTableFull, n, p.limit)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, buf := range p.free {
		if cap(buf) >= n {
			last := len(p.free) - 1
			p.free[i] = p.free[last]
			p.free[last] = nil
			p.free = p.free[:last]
			return buf[:n], nil
		}
	}
	return make([]Closure, n), nil
}

// Free implements [Allocator]. The buffer is cleared so the private data it
// referenced can be collected.
func (p *Pool) Free(buf []Closure) {
	buf = buf[:cap(buf)]
	clear(buf)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < maxFree {
		p.free = append(p.free, buf[:0])
	}
}

// Cached returns the number of buffers available for reuse.
func (p *Pool) Cached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
