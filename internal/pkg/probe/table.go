// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"errors"
	"fmt"
)

// Mode is the dispatch representation of a Table.
type Mode int

const (
	// ModeNoop dispatches to nothing.
	ModeNoop Mode = iota
	// ModeSingle dispatches to exactly one closure stored inline.
	ModeSingle
	// ModeMulti dispatches to a sequence of closures in registration order.
	ModeMulti
)

func (m Mode) String() string {
	switch m {
	case ModeNoop:
		return "noop"
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ErrDuplicate is returned when a closure is already present in a table.
var ErrDuplicate = errors.New("probe already present")

// Table is the dispatch target of a marker. A Table is never modified once
// it has been published to call sites.
type Table struct {
	mode   Mode
	single Closure
	multi  []Closure
	invoke func(t *Table, format string, callPrivate any, args []any)
}

var noop = &Table{mode: ModeNoop, invoke: callNoop}

// Noop returns the shared table that dispatches to nothing.
func Noop() *Table { return noop }

// Invoke forwards a firing to every closure of t.
func (t *Table) Invoke(format string, callPrivate any, args []any) {
	t.invoke(t, format, callPrivate, args)
}

// Mode returns the dispatch mode of t.
func (t *Table) Mode() Mode { return t.mode }

// Len returns the number of closures in t.
func (t *Table) Len() int {
	switch t.mode {
	case ModeSingle:
		return 1
	case ModeMulti:
		return len(t.multi)
	default:
		return 0
	}
}

// Closures returns a copy of the closures in t in dispatch order.
func (t *Table) Closures() []Closure {
	switch t.mode {
	case ModeSingle:
		return []Closure{t.single}
	case ModeMulti:
		out := make([]Closure, len(t.multi))
		copy(out, t.multi)
		return out
	default:
		return nil
	}
}

// Index returns the position of the closure matching fn and private, or -1.
func (t *Table) Index(fn Func, private any) int {
	switch t.mode {
	case ModeSingle:
		if t.single.Match(fn, private) {
			return 0
		}
	case ModeMulti:
		for i, c := range t.multi {
			if c.Match(fn, private) {
				return i
			}
		}
	}
	return -1
}

func callNoop(*Table, string, any, []any) {}

func callSingle(t *Table, format string, callPrivate any, args []any) {
	t.single.Func(t.single.Private, callPrivate, format, args)
}

func callMulti(t *Table, format string, callPrivate any, args []any) {
	for _, c := range t.multi {
		c.Func(c.Private, callPrivate, format, args)
	}
}

// Builder constructs replacement tables. It never modifies a table it is
// given.
type Builder struct {
	alloc Allocator
}

// NewBuilder returns a [Builder] drawing multi-mode storage from alloc. A nil
// alloc uses an unbounded [Pool].
func NewBuilder(alloc Allocator) *Builder {
	if alloc == nil {
		alloc = NewPool(0)
	}
	return &Builder{alloc: alloc}
}

// Add returns a new table holding the closures of old followed by c.
//
// [ErrDuplicate] is returned if old already holds a closure matching c, and
// the allocator's error if storage cannot be obtained. old stays valid in
// both cases.
func (b *Builder) Add(old *Table, c Closure) (*Table, error) {
	if c.Func == nil {
		return nil, errors.New("nil probe function")
	}
	if old.Index(c.Func, c.Private) >= 0 {
		return nil, ErrDuplicate
	}

	switch old.mode {
	case ModeNoop:
		return &Table{mode: ModeSingle, single: c, invoke: callSingle}, nil
	case ModeSingle:
		return b.multi(old.single, c)
	default:
		return b.multi(append(old.multi[:len(old.multi):len(old.multi)], c)...)
	}
}

// Remove returns a new table without the closures for which match reports
// true, together with the removed closures. If nothing matches, old is
// returned unchanged.
func (b *Builder) Remove(old *Table, match func(Closure) bool) (*Table, []Closure, error) {
	var kept, removed []Closure
	for _, c := range old.Closures() {
		if match(c) {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	if len(removed) == 0 {
		return old, nil, nil
	}

	switch len(kept) {
	case 0:
		return noop, removed, nil
	case 1:
		return &Table{mode: ModeSingle, single: kept[0], invoke: callSingle}, removed, nil
	default:
		t, err := b.multi(kept...)
		if err != nil {
			return nil, nil, err
		}
		return t, removed, nil
	}
}

// Release returns the storage of a retired table to the allocator. It must
// only be called once no call site can still be dispatching through t.
func (b *Builder) Release(t *Table) {
	if t == nil || t.mode != ModeMulti {
		return
	}
	b.alloc.Free(t.multi)
}

func (b *Builder) multi(cs ...Closure) (*Table, error) {
	buf, err := b.alloc.Alloc(len(cs))
	if err != nil {
		return nil, err
	}
	copy(buf, cs)
	return &Table{mode: ModeMulti, multi: buf, invoke: callMulti}, nil
}
