// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package enable provides the enablement strategies of marker call sites.
//
// Every call site tests a [State] word before dispatching. A [Gate] decides
// how requests to change that word are applied: a [Variable] gate stores the
// new value immediately, a [Patchable] gate hands the request to a [Patcher]
// that applies it when the patch set converges.
package enable

import "sync/atomic"

// State is the word read by a call site on every firing.
type State struct {
	v atomic.Uint32
}

// Enabled reports whether the call site should dispatch.
func (s *State) Enabled() bool { return s.v.Load() != 0 }

// Store sets the state observed by the call site. It is meant for
// [Patcher] implementations; registries go through a [Gate].
func (s *State) Store(on bool) {
	if on {
		s.v.Store(1)
	} else {
		s.v.Store(0)
	}
}

// Gate is the capability a registry uses to toggle a call site.
type Gate interface {
	// Enabled reports the state currently observed by the call site.
	Enabled() bool
	// RequestEnable asks for the call site to start dispatching.
	RequestEnable()
	// RequestDisable asks for the call site to stop dispatching.
	RequestDisable()
}

// Variable is a [Gate] whose call site performs a plain memory read. Requests
// take effect immediately.
type Variable struct {
	state *State
}

var _ Gate = Variable{}

// NewVariable returns a [Variable] gate controlling s.
func NewVariable(s *State) Variable { return Variable{state: s} }

// Enabled implements [Gate].
func (g Variable) Enabled() bool { return g.state.Enabled() }

// RequestEnable implements [Gate].
func (g Variable) RequestEnable() { g.state.Store(true) }

// RequestDisable implements [Gate].
func (g Variable) RequestDisable() { g.state.Store(false) }

// Patchable is a [Gate] whose call site is rewritten by a [Patcher]. Requests
// are queued and only observed by the call site after [Patcher.Converge].
type Patchable struct {
	state   *State
	patcher Patcher
}

var _ Gate = Patchable{}

// NewPatchable returns a [Patchable] gate controlling s through p.
func NewPatchable(s *State, p Patcher) Patchable {
	return Patchable{state: s, patcher: p}
}

// Enabled implements [Gate].
func (g Patchable) Enabled() bool { return g.state.Enabled() }

// RequestEnable implements [Gate].
func (g Patchable) RequestEnable() { g.patcher.Queue(g.state, true) }

// RequestDisable implements [Gate].
func (g Patchable) RequestDisable() { g.patcher.Queue(g.state, false) }
