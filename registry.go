// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package markers provides dynamic instrumentation markers: named trace
// points embedded in code that cost a single atomic load while disabled and
// dispatch to probes attached at run time.
//
// Code declares its markers with [Declare] and loads them into a [Registry]
// once, at initialization. Independent subsystems then attach probes to
// marker names with [Registry.Register] and detach them with
// [Registry.Unregister]. A marker is enabled exactly while at least one
// probe is attached to its name.
package markers

import (
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.opentelemetry.io/markers/internal/pkg/format"
	"go.opentelemetry.io/markers/internal/pkg/probe"
)

// entry holds the probes attached to one marker name and the call sites
// sharing that name.
type entry struct {
	mu     sync.Mutex
	name   string
	format string
	table  *probe.Table
	sites  []*Marker
}

// publish makes t the dispatch table of every site of e. It must be called
// with e.mu held.
func (e *entry) publish(t *probe.Table) {
	e.table = t
	for _, m := range e.sites {
		m.converge(t)
	}
}

func (e *entry) enabled() bool {
	for _, m := range e.sites {
		if m.Enabled() {
			return true
		}
	}
	return false
}

// MarkerInfo describes a marker name known to a [Registry].
type MarkerInfo struct {
	Name    string
	Format  string
	Enabled bool
	Mode    DispatchMode
	// Probes is the number of attached probes.
	Probes int
	// Sites is the number of loaded call sites using the name.
	Sites int
}

// Registry maps marker names to the call sites declaring them and to the
// probes attached to them.
//
// Operations on different marker names proceed concurrently; operations on
// the same name are serialized. A Registry must be created with
// [NewRegistry] before markers are loaded and closed after the last probe
// operation.
type Registry struct {
	logger           logr.Logger
	builder          *probe.Builder
	patcher          Patcher
	forceVariable    bool
	reclaimThreshold int

	mu      sync.RWMutex
	entries map[string]*entry
	units   map[string][]*Marker
	closed  bool
}

// NewRegistry returns a new [Registry] configured with the provided opts.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	c, err := newRegistryConfig(opts)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		logger:           c.logger.WithName("markers"),
		builder:          probe.NewBuilder(probe.NewPool(c.MaxProbes)),
		patcher:          c.patcher,
		forceVariable:    c.ForceVariableRead,
		reclaimThreshold: c.ReclaimThreshold,
		entries:          make(map[string]*entry),
		units:            make(map[string][]*Marker),
	}
	r.logger.V(1).Info("registry created", "version", Version(), "max_probes", c.MaxProbes)
	return r, nil
}

// Load inserts the call sites of a code unit into r. Each site is connected
// to the probes already attached to its name.
//
// Sites that cannot be loaded are skipped and reported in the returned
// error: a site whose format differs from the format already registered for
// its name fails with [ErrFormatMismatch], a site that is still loaded fails
// with [ErrAlreadyLoaded].
func (r *Registry) Load(unit string, sites ...*Marker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	var err error
	loaded := 0
	for _, m := range sites {
		if e := r.load(unit, m); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		loaded++
	}
	r.patcher.Converge()

	r.logger.Info("loaded markers", "unit", unit, "loaded", loaded, "rejected", len(sites)-loaded)
	return err
}

// load must be called with r.mu held for writing.
func (r *Registry) load(unit string, m *Marker) error {
	if m == nil || m.name == "" {
		return errors.New("marker without a name")
	}

	e, ok := r.entries[m.name]
	if ok && e.format != m.format {
		return errors.Wrapf(ErrFormatMismatch, "marker %q: call site format %q, registered format %q", m.name, m.format, e.format)
	}
	if !m.loaded.CompareAndSwap(false, true) {
		return errors.Wrapf(ErrAlreadyLoaded, "marker %q", m.name)
	}
	if !ok {
		e = &entry{name: m.name, format: m.format, table: probe.Noop()}
		r.entries[m.name] = e
	}
	if _, err := format.Parse(m.format); err != nil {
		r.logger.Info("marker format cannot be parsed by probes", "marker", m.name, "error", err)
	}

	m.unit = unit
	m.gate = m.newGate(r.patcher, r.forceVariable)

	e.mu.Lock()
	e.sites = append(e.sites, m)
	m.converge(e.table)
	e.mu.Unlock()

	r.units[unit] = append(r.units[unit], m)
	return nil
}

// Unload disconnects the call sites loaded for unit. Probes stay attached to
// their marker names and are connected again if the unit is reloaded.
//
// Unload returns once no firing of the unloaded sites is in progress.
func (r *Registry) Unload(unit string) error {
	err := r.unload(unit)
	if err != nil {
		return err
	}
	r.Synchronize()
	return nil
}

func (r *Registry) unload(unit string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	sites, ok := r.units[unit]
	if !ok {
		return errors.Wrapf(ErrNotFound, "unit %q", unit)
	}
	delete(r.units, unit)

	for _, m := range sites {
		e := r.entries[m.name]
		e.mu.Lock()
		m.converge(probe.Noop())
		e.sites = removeSite(e.sites, m)
		empty := len(e.sites) == 0 && e.table.Len() == 0
		e.mu.Unlock()
		if empty {
			delete(r.entries, m.name)
		}
	}
	r.patcher.Converge()

	for _, m := range sites {
		m.unit = ""
		m.loaded.Store(false)
	}
	r.logger.Info("unloaded markers", "unit", unit, "sites", len(sites))
	return nil
}

func removeSite(sites []*Marker, m *Marker) []*Marker {
	for i, s := range sites {
		if s == m {
			return append(sites[:i], sites[i+1:]...)
		}
	}
	return sites
}

// Register attaches the probe (fn, private) to every call site named name
// and enables them.
//
// If format is not empty it must equal the marker's format, otherwise
// [ErrFormatMismatch] is returned. [ErrNotFound] is returned if no call
// site named name is loaded, [ErrAlreadyRegistered] if the same probe is
// already attached, and [ErrAllocationFailure] if the marker cannot take
// another probe. On error the marker is left unchanged.
func (r *Registry) Register(name, format string, fn ProbeFunc, private any) error {
	if fn == nil {
		return errors.New("nil probe function")
	}

	old, err := r.register(name, format, probe.Closure{Func: fn, Private: private})
	if err != nil {
		return err
	}
	r.retire(old)
	return nil
}

func (r *Registry) register(name, format string, c probe.Closure) (*probe.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	e, ok := r.entries[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "marker %q", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sites) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "marker %q is not loaded", name)
	}
	if format != "" && format != e.format {
		return nil, errors.Wrapf(ErrFormatMismatch, "marker %q: probe format %q, marker format %q", name, format, e.format)
	}

	t, err := r.builder.Add(e.table, c)
	switch {
	case errors.Is(err, probe.ErrDuplicate):
		return nil, errors.Wrapf(ErrAlreadyRegistered, "marker %q", name)
	case errors.Is(err, probe.ErrTableFull):
		return nil, errors.Wrapf(ErrAllocationFailure, "marker %q: %v", name, err)
	case err != nil:
		return nil, errors.Wrapf(err, "marker %q", name)
	}

	old := e.table
	e.publish(t)
	r.patcher.Converge()

	r.logger.V(1).Info("probe registered", "marker", name, "probes", t.Len(), "mode", t.Mode().String())
	return old, nil
}

// Unregister detaches the probe (fn, private) from the marker name. A nil fn
// matches any callback registered with private.
//
// Unregister returns once no firing can still reach the probe, so the
// caller may release private afterwards. The marker is disabled if it has no
// probe left. [ErrNotFound] is returned if the probe is not attached.
func (r *Registry) Unregister(name string, fn ProbeFunc, private any) error {
	old, err := r.unregister(name, func(c probe.Closure) bool { return c.Match(fn, private) })
	if err != nil {
		return err
	}
	r.retire(old)
	r.Synchronize()
	return nil
}

func (r *Registry) unregister(name string, match func(probe.Closure) bool) (*probe.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	e, ok := r.entries[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "marker %q", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	old, n, err := r.remove(e, match)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.Wrapf(ErrNotFound, "probe on marker %q", name)
	}
	r.patcher.Converge()
	return old, nil
}

// remove detaches the closures of e matching match and returns the replaced
// table and the number of closures removed. It must be called with e.mu
// held.
func (r *Registry) remove(e *entry, match func(probe.Closure) bool) (*probe.Table, int, error) {
	t, removed, err := r.builder.Remove(e.table, match)
	if err != nil {
		return nil, 0, errors.Wrapf(ErrAllocationFailure, "marker %q: %v", e.name, err)
	}
	if len(removed) == 0 {
		return nil, 0, nil
	}

	old := e.table
	e.publish(t)
	r.logger.V(1).Info("probe unregistered", "marker", e.name, "probes", t.Len(), "mode", t.Mode().String())
	return old, len(removed), nil
}

// UnregisterPrivateData detaches the probe (fn, private) from every marker it
// is attached to and returns the number of probes removed. A nil fn matches
// any callback registered with private.
//
// Like Unregister, it returns once no firing can still reach the removed
// probes. [ErrNotFound] is returned if no probe matched.
func (r *Registry) UnregisterPrivateData(fn ProbeFunc, private any) (int, error) {
	match := func(c probe.Closure) bool { return c.Match(fn, private) }

	olds, n, err := r.unregisterAll(match)
	for _, old := range olds {
		r.retire(old)
	}
	if n > 0 {
		r.Synchronize()
		r.prune()
	}
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, errors.Wrap(ErrNotFound, "probe private data")
	}
	return n, nil
}

func (r *Registry) unregisterAll(match func(probe.Closure) bool) ([]*probe.Table, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, 0, ErrClosed
	}

	var (
		olds  []*probe.Table
		total int
		err   error
	)
	for _, e := range r.entries {
		e.mu.Lock()
		old, n, rErr := r.remove(e, match)
		e.mu.Unlock()
		if rErr != nil {
			err = multierr.Append(err, rErr)
			continue
		}
		if n > 0 {
			olds = append(olds, old)
			total += n
		}
	}
	if total > 0 {
		r.patcher.Converge()
	}
	return olds, total, err
}

// prune deletes entries left with neither call sites nor probes.
func (r *Registry) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		e.mu.Lock()
		empty := len(e.sites) == 0 && e.table.Len() == 0
		e.mu.Unlock()
		if empty {
			delete(r.entries, name)
		}
	}
}

// PrivateData returns the private data of the index-th probe attached to the
// marker name with callback fn, in registration order. A nil fn matches any
// callback. [ErrNotFound] is returned if there is no such probe.
func (r *Registry) PrivateData(name string, fn ProbeFunc, index int) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	e, ok := r.entries[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "marker %q", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.table.Closures() {
		if fn != nil && !probe.SameFunc(c.Func, fn) {
			continue
		}
		if n == index {
			return c.Private, nil
		}
		n++
	}
	return nil, errors.Wrapf(ErrNotFound, "probe %d on marker %q", index, name)
}

// Synchronize waits until every firing in progress when it was called has
// returned, then recycles the dispatch tables retired before the call.
//
// It must not be called from a probe.
func (r *Registry) Synchronize() {
	grace.Synchronize()
}

// retire queues old for recycling after the next grace period. Retired
// tables are reclaimed inline once more than the configured threshold are
// pending.
func (r *Registry) retire(old *probe.Table) {
	if old == nil || old.Mode() != probe.ModeMulti {
		return
	}
	grace.Retire(func() { r.builder.Release(old) })
	if grace.Pending() >= r.reclaimThreshold {
		r.logger.V(1).Info("reclaiming retired dispatch tables", "pending", grace.Pending())
		grace.Synchronize()
	}
}

// Markers returns a snapshot of the marker names known to r, sorted by name.
func (r *Registry) Markers() []MarkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MarkerInfo, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		out = append(out, MarkerInfo{
			Name:    e.name,
			Format:  e.format,
			Enabled: e.enabled(),
			Mode:    e.table.Mode(),
			Probes:  e.table.Len(),
			Sites:   len(e.sites),
		})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close detaches every probe and unloads every call site. It returns once no
// firing is in progress. Operations on a closed Registry return [ErrClosed].
func (r *Registry) Close() error {
	olds, ok := r.close()
	if !ok {
		return nil
	}
	for _, old := range olds {
		r.retire(old)
	}
	r.Synchronize()
	return nil
}

func (r *Registry) close() ([]*probe.Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	r.closed = true

	olds := make([]*probe.Table, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		olds = append(olds, e.table)
		e.publish(probe.Noop())
		for _, m := range e.sites {
			m.unit = ""
		}
		e.mu.Unlock()
	}
	r.patcher.Converge()

	for _, e := range r.entries {
		for _, m := range e.sites {
			m.loaded.Store(false)
		}
	}
	r.logger.Info("registry closed", "markers", len(r.entries))
	r.entries = nil
	r.units = nil
	return olds, true
}
