// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package markers

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"

	"go.opentelemetry.io/markers/internal/pkg/enable"
	"go.opentelemetry.io/markers/internal/pkg/format"
	"go.opentelemetry.io/markers/internal/pkg/probe"
	"go.opentelemetry.io/markers/internal/pkg/rcu"
)

// NoArgs is the format of a marker that passes no arguments to its probes.
const NoArgs = " "

// grace tracks every firing in progress in the process. Dispatch tables are
// recycled only after it has observed a grace period.
var grace rcu.Domain

// ProbeFunc is the callback attached to a marker.
//
// It receives the private data it was registered with, the call site's
// private data, the marker's format string, and the call site's arguments,
// which it must interpret according to the format. It runs inline on the
// firing goroutine and must not block, retain args, or register and
// unregister probes.
//
// A probe is identified by its code pointer and private data. Method values
// of one method share a code pointer whatever their receiver, so probes
// bound to distinct receivers must be registered with distinct private data.
type ProbeFunc = probe.Func

// DispatchMode is the dispatch representation currently used by a marker.
type DispatchMode = probe.Mode

const (
	// DispatchNoop is the mode of a marker without probes.
	DispatchNoop = probe.ModeNoop
	// DispatchSingle is the mode of a marker with exactly one probe.
	DispatchSingle = probe.ModeSingle
	// DispatchMulti is the mode of a marker with two or more probes.
	DispatchMulti = probe.ModeMulti
)

// Enablement is the technique a call site uses to test whether it is
// enabled.
type Enablement int

const (
	// VariableRead call sites test a state word on every firing. Changes
	// take effect immediately.
	VariableRead Enablement = iota
	// Patchable call sites are enabled by a [Patcher]. Changes take effect
	// when the patcher converges.
	Patchable
)

func (e Enablement) String() string {
	switch e {
	case VariableRead:
		return "variable"
	case Patchable:
		return "patchable"
	default:
		return fmt.Sprintf("Enablement(%d)", int(e))
	}
}

// Marker is an instrumentation point. It is declared once per call site with
// [Declare], loaded into a [Registry], and fired with [Marker.Fire].
//
// A Marker must not be copied after first use.
type Marker struct {
	state  enable.State
	target atomic.Pointer[probe.Table]

	name       string
	format     string
	enablement Enablement

	loaded atomic.Bool
	// Owned by the registry that loaded the marker.
	gate enable.Gate
	unit string
}

// MarkerOption configures a [Marker].
type MarkerOption func(*Marker)

// WithEnablement returns a [MarkerOption] selecting the enablement technique
// of the call site. The default is [VariableRead].
func WithEnablement(e Enablement) MarkerOption {
	return func(m *Marker) { m.enablement = e }
}

// Declare returns a new disabled Marker named name whose arguments are
// described by format. Use [NoArgs] for markers without arguments.
//
// Several markers may share a name; they then share their probes and must
// share their format.
func Declare(name, format string, opts ...MarkerOption) *Marker {
	m := &Marker{name: name, format: format}
	for _, opt := range opts {
		opt(m)
	}
	m.target.Store(probe.Noop())
	return m
}

// Name returns the name of m.
func (m *Marker) Name() string { return m.name }

// Format returns the format string of m.
func (m *Marker) Format() string { return m.format }

// Enablement returns the enablement technique m was declared with.
func (m *Marker) Enablement() Enablement { return m.enablement }

// Enabled reports whether m currently dispatches to probes.
//
// It is a single atomic load. Hot call sites guard Fire with it so the
// argument slice is only built when a probe will read it:
//
//	if m.Enabled() {
//		m.Fire(nil, fd, buf)
//	}
func (m *Marker) Enabled() bool { return m.state.Enabled() }

// DispatchMode returns the current dispatch representation of m.
func (m *Marker) DispatchMode() DispatchMode { return m.target.Load().Mode() }

// Fire invokes every probe attached to m, in registration order, with
// callPrivate and args. It does nothing if m is disabled.
//
// Fire never blocks and is safe to call concurrently with any registry
// operation.
func (m *Marker) Fire(callPrivate any, args ...any) {
	if !m.state.Enabled() {
		return
	}
	m.dispatch(callPrivate, args)
}

func (m *Marker) dispatch(callPrivate any, args []any) {
	idx := grace.ReadLock()
	defer grace.ReadUnlock(idx)
	m.target.Load().Invoke(m.format, callPrivate, args)
}

// CheckArgs reports whether args match the format of m. The returned error
// wraps [ErrFormatMismatch].
func (m *Marker) CheckArgs(args ...any) error {
	if err := format.Check(m.format, args); err != nil {
		return errors.Wrapf(ErrFormatMismatch, "marker %q: %v", m.name, err)
	}
	return nil
}

func (m *Marker) newGate(p enable.Patcher, forceVariable bool) enable.Gate {
	if m.enablement == Patchable && !forceVariable {
		return enable.NewPatchable(&m.state, p)
	}
	return enable.NewVariable(&m.state)
}

// converge points m at t and requests the matching state. A marker is
// enabled iff t has at least one probe; it is disabled only after t, the
// no-op table, has been published.
func (m *Marker) converge(t *probe.Table) {
	m.target.Store(t)
	if t.Len() > 0 {
		m.gate.RequestEnable()
	} else {
		m.gate.RequestDisable()
	}
}
