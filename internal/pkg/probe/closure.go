// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe provides the probe closures attached to markers and the
// dispatch tables call sites invoke them through.
package probe

import "reflect"

// Func is the callback a probe attaches to a marker.
//
// It receives the private data it was registered with, the private data of
// the firing call site, the marker's format string and the call site's
// arguments. The probe is responsible for interpreting args according to
// format. args must not be retained after the call returns.
type Func func(probePrivate, callPrivate any, format string, args []any)

// Closure is a (callback, private data) pair. It is the unit probes are
// registered and unregistered by.
type Closure struct {
	Func    Func
	Private any
}

// Match reports whether c was registered with fn and private. A nil fn
// matches on private data alone.
func (c Closure) Match(fn Func, private any) bool {
	if fn != nil && !SameFunc(c.Func, fn) {
		return false
	}
	return SamePrivate(c.Private, private)
}

// SameFunc reports whether a and b refer to the same code.
//
// Go functions are not comparable, the code pointer is used instead. Two
// closures created from the same function literal therefore compare equal;
// callers distinguish them by private data.
func SameFunc(a, b Func) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// SamePrivate reports whether a and b are the same private data.
//
// Values that are comparable at run time are compared with ==. Maps, slices,
// channels and functions are compared by reference.
func SamePrivate(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Comparable() {
		return va.Equal(vb)
	}
	switch va.Kind() {
	case reflect.Map, reflect.Chan, reflect.Func, reflect.Pointer, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	default:
		return false
	}
}
