// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package markers

import "errors"

var (
	// ErrNotFound is returned when a marker name, or a probe on a marker,
	// does not exist in the registry.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyRegistered is returned when a probe is attached twice to
	// the same marker with the same private data.
	ErrAlreadyRegistered = errors.New("probe already registered")
	// ErrFormatMismatch is returned when the format expected by a probe or
	// declared by a call site disagrees with the marker's format.
	ErrFormatMismatch = errors.New("format mismatch")
	// ErrAllocationFailure is returned when the dispatch table of a marker
	// cannot grow. The marker keeps dispatching to its previous probes.
	ErrAllocationFailure = errors.New("dispatch table allocation failure")
	// ErrAlreadyLoaded is returned when a marker is loaded while it is
	// still part of a loaded unit.
	ErrAlreadyLoaded = errors.New("marker already loaded")
	// ErrClosed is returned by operations on a closed [Registry].
	ErrClosed = errors.New("registry closed")
)
