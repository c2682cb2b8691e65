// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package oteltrace records marker firings as OpenTelemetry telemetry.
package oteltrace

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"go.opentelemetry.io/markers"
	"go.opentelemetry.io/markers/internal/pkg/format"
)

const (
	scopePrefix = "go.opentelemetry.io/markers/"

	// MarkerNameKey is the attribute holding the name of the fired marker.
	MarkerNameKey = attribute.Key("marker.name")
	// MarkerFormatKey is the attribute holding the format of the fired marker.
	MarkerFormatKey = attribute.Key("marker.format")
)

// Controller handles OpenTelemetry telemetry generation for marker firings.
type Controller struct {
	logger         logr.Logger
	version        string
	tracerProvider trace.TracerProvider

	mu       sync.Mutex
	tracers  map[string]trace.Tracer
	bindings map[*markers.Registry][]*binding
}

// NewController returns a new initialized [Controller].
func NewController(logger logr.Logger, tracerProvider trace.TracerProvider, ver string) (*Controller, error) {
	if tracerProvider == nil {
		return nil, errors.New("nil tracer provider")
	}
	return &Controller{
		logger:         logger.WithName("Controller"),
		version:        ver,
		tracerProvider: tracerProvider,
		tracers:        make(map[string]trace.Tracer),
		bindings:       make(map[*markers.Registry][]*binding),
	}, nil
}

// getTracer must be called with c.mu held.
func (c *Controller) getTracer(subsystem string) trace.Tracer {
	t, exists := c.tracers[subsystem]
	if exists {
		return t
	}

	newTracer := c.tracerProvider.Tracer(
		scopePrefix+subsystem,
		trace.WithInstrumentationVersion(c.version),
	)
	c.tracers[subsystem] = newTracer
	return newTracer
}

// subsystem returns the part of a marker name before its first dot.
func subsystem(name string) string {
	s, _, _ := strings.Cut(name, ".")
	return s
}

// Attach registers [Probe] on the named markers of reg. With no names, every
// marker known to reg is attached. Markers already attached to reg are
// skipped. Markers that cannot be attached are reported in the returned
// error; the others stay attached.
func (c *Controller) Attach(reg *markers.Registry, names ...string) error {
	known := make(map[string]markers.MarkerInfo)
	for _, mi := range reg.Markers() {
		known[mi.Name] = mi
	}
	if len(names) == 0 {
		for name := range known {
			names = append(names, name)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	attached := make(map[string]bool, len(c.bindings[reg]))
	for _, b := range c.bindings[reg] {
		attached[b.name] = true
	}

	var err error
	for _, name := range names {
		mi, ok := known[name]
		if !ok {
			err = multierr.Append(err, errors.Wrapf(markers.ErrNotFound, "marker %q", name))
			continue
		}
		if attached[name] {
			continue
		}
		attached[name] = true

		b := c.newBinding(mi)
		if e := reg.Register(name, mi.Format, Probe, b); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		c.bindings[reg] = append(c.bindings[reg], b)
		c.logger.V(1).Info("attached", "marker", name, "format", mi.Format)
	}
	return err
}

// Detach unregisters every probe c attached to reg. It returns once no
// firing can reach them anymore.
func (c *Controller) Detach(reg *markers.Registry) error {
	c.mu.Lock()
	bs := c.bindings[reg]
	delete(c.bindings, reg)
	c.mu.Unlock()

	var err error
	for _, b := range bs {
		_, e := reg.UnregisterPrivateData(Probe, b)
		if e != nil && !errors.Is(e, markers.ErrNotFound) && !errors.Is(e, markers.ErrClosed) {
			err = multierr.Append(err, e)
		}
	}
	c.logger.V(1).Info("detached", "markers", len(bs))
	return err
}

// binding is the private data of a probe attached by a [Controller]: the
// tracer and argument layout of one marker.
type binding struct {
	name   string
	format string
	tracer trace.Tracer
	kinds  []format.Kind
	keys   []attribute.Key
}

// newBinding must be called with c.mu held.
func (c *Controller) newBinding(mi markers.MarkerInfo) *binding {
	b := &binding{
		name:   mi.Name,
		format: mi.Format,
		tracer: c.getTracer(subsystem(mi.Name)),
	}

	verbs, err := format.Parse(mi.Format)
	if err != nil {
		c.logger.Info("untyped marker arguments", "marker", mi.Name, "error", err)
	}
	for i, v := range verbs {
		b.kinds = append(b.kinds, v.Kind)
		b.keys = append(b.keys, argKey(i))
	}
	return b
}

func argKey(i int) attribute.Key {
	return attribute.Key(fmt.Sprintf("marker.arg.%d", i))
}

// Probe is the [markers.ProbeFunc] registered by a [Controller].
//
// If callPrivate is a [context.Context] carrying a recording span, the firing
// is added to that span as an event. Otherwise an instantaneous span named
// after the marker is recorded, parented by callPrivate when it is a context.
func Probe(probePrivate, callPrivate any, _ string, args []any) {
	b, ok := probePrivate.(*binding)
	if !ok {
		return
	}
	b.record(callPrivate, args)
}

func (b *binding) record(callPrivate any, args []any) {
	attrs := make([]attribute.KeyValue, 0, len(args)+2)
	attrs = append(attrs, MarkerNameKey.String(b.name), MarkerFormatKey.String(b.format))

	var failure error
	for i, arg := range args {
		attrs = append(attrs, b.attr(i, arg))
		if e, ok := arg.(error); ok && failure == nil {
			failure = e
		}
	}

	ctx := context.Background()
	if parent, ok := callPrivate.(context.Context); ok && parent != nil {
		if span := trace.SpanFromContext(parent); span.IsRecording() {
			span.AddEvent(b.name, trace.WithAttributes(attrs...))
			return
		}
		ctx = parent
	}

	_, span := b.tracer.Start(ctx, b.name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal))
	if failure != nil {
		span.SetStatus(codes.Error, failure.Error())
	}
	span.End()
}

func (b *binding) attr(i int, arg any) attribute.KeyValue {
	key := argKey(i)
	kind := format.KindAny
	if i < len(b.kinds) {
		key, kind = b.keys[i], b.kinds[i]
	}
	if !format.Accepts(kind, arg) {
		kind = format.KindAny
	}

	switch kind {
	case format.KindInt, format.KindUint:
		if v, ok := toInt64(arg); ok {
			return key.Int64(v)
		}
	case format.KindHex:
		return key.String(fmt.Sprintf("%#x", arg))
	case format.KindChar:
		if v, ok := toInt64(arg); ok {
			return key.String(string(rune(v)))
		}
	case format.KindFloat:
		if v, ok := arg.(float32); ok {
			return key.Float64(float64(v))
		}
		if v, ok := arg.(float64); ok {
			return key.Float64(v)
		}
	case format.KindString:
		if v, ok := arg.([]byte); ok {
			return key.String(string(v))
		}
		return key.String(fmt.Sprint(arg))
	case format.KindPointer:
		if arg == nil {
			return key.String("0x0")
		}
		return key.String(fmt.Sprintf("%p", arg))
	case format.KindBool:
		return key.Bool(reflect.ValueOf(arg).Bool())
	}

	switch v := arg.(type) {
	case string:
		return key.String(v)
	case []byte:
		return key.String(string(v))
	case bool:
		return key.Bool(v)
	case error:
		return key.String(v.Error())
	}
	if v, ok := toInt64(arg); ok {
		return key.Int64(v)
	}
	return key.String(fmt.Sprint(arg))
}

func toInt64(arg any) (int64, bool) {
	v := reflect.ValueOf(arg)
	switch {
	case v.CanInt():
		return v.Int(), true
	case v.CanUint():
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}
