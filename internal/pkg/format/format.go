// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package format parses marker format strings.
//
// A format string describes the arguments a marker passes to its probes. It
// uses printf verbs, both the fmt package's and the C-style length modifiers
// found in kernel formats ("%lu", "%zd", "%llx"). Parsing is a probe-side
// concern; markers only carry the string.
package format

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrInvalid is returned for a malformed format string.
	ErrInvalid = errors.New("invalid format")
	// ErrArgCount is returned when the number of arguments does not match
	// the format.
	ErrArgCount = errors.New("argument count mismatch")
	// ErrArgType is returned when an argument cannot be formatted by its
	// verb.
	ErrArgType = errors.New("argument type mismatch")
)

// Kind is the class of value a verb expects.
type Kind int

const (
	KindAny Kind = iota
	KindInt
	KindUint
	KindHex
	KindFloat
	KindString
	KindChar
	KindPointer
	KindBool
)

var kindNames = [...]string{
	KindAny:     "any",
	KindInt:     "int",
	KindUint:    "uint",
	KindHex:     "hex",
	KindFloat:   "float",
	KindString:  "string",
	KindChar:    "char",
	KindPointer: "pointer",
	KindBool:    "bool",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Verb is one argument-consuming directive of a format string.
type Verb struct {
	// Spec is the directive as written, including the leading '%'.
	Spec string
	// Verb is the conversion character. It is '*' for a width or precision
	// taken from the argument list.
	Verb rune
	Kind Kind
}

const (
	flags   = "+-# 0"
	lengths = "hlLzj"
)

// Parse returns the argument-consuming verbs of format in order.
func Parse(format string) ([]Verb, error) {
	var verbs []Verb
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		start := i
		i++
		if i >= len(format) {
			return nil, fmt.Errorf("%w: trailing %% in %q", ErrInvalid, format)
		}
		if format[i] == '%' {
			continue
		}

		for i < len(format) && strings.IndexByte(flags, format[i]) >= 0 {
			i++
		}
		i, verbs = width(format, i, verbs)
		if i < len(format) && format[i] == '.' {
			i, verbs = width(format, i+1, verbs)
		}
		for i < len(format) && strings.IndexByte(lengths, format[i]) >= 0 {
			i++
		}
		if i >= len(format) {
			return nil, fmt.Errorf("%w: incomplete directive %q", ErrInvalid, format[start:])
		}

		c := rune(format[i])
		k, ok := kindOf(c)
		if !ok {
			return nil, fmt.Errorf("%w: unknown verb %q in %q", ErrInvalid, format[start:i+1], format)
		}
		verbs = append(verbs, Verb{Spec: format[start : i+1], Verb: c, Kind: k})
	}
	return verbs, nil
}

func width(format string, i int, verbs []Verb) (int, []Verb) {
	if i < len(format) && format[i] == '*' {
		return i + 1, append(verbs, Verb{Spec: "*", Verb: '*', Kind: KindInt})
	}
	for i < len(format) && format[i] >= '0' && format[i] <= '9' {
		i++
	}
	return i, verbs
}

func kindOf(c rune) (Kind, bool) {
	switch c {
	case 'd', 'i':
		return KindInt, true
	case 'u':
		return KindUint, true
	case 'x', 'X', 'o', 'O', 'b':
		return KindHex, true
	case 'e', 'E', 'f', 'F', 'g', 'G':
		return KindFloat, true
	case 's', 'q':
		return KindString, true
	case 'c', 'U':
		return KindChar, true
	case 'p':
		return KindPointer, true
	case 't':
		return KindBool, true
	case 'v', 'T':
		return KindAny, true
	default:
		return 0, false
	}
}

// Check reports whether args can be formatted by format.
func Check(format string, args []any) error {
	verbs, err := Parse(format)
	if err != nil {
		return err
	}
	if len(verbs) != len(args) {
		return fmt.Errorf("%w: format %q wants %d, got %d", ErrArgCount, format, len(verbs), len(args))
	}
	for i, v := range verbs {
		if !Accepts(v.Kind, args[i]) {
			return fmt.Errorf("%w: argument %d (%T) for %s", ErrArgType, i, args[i], v.Spec)
		}
	}
	return nil
}

var stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()

// Accepts reports whether arg is a valid value for a verb of kind k.
func Accepts(k Kind, arg any) bool {
	if k == KindAny {
		return true
	}
	if arg == nil {
		return k == KindPointer
	}

	t := reflect.TypeOf(arg)
	switch k {
	case KindInt, KindUint, KindChar:
		return isInteger(t.Kind())
	case KindHex:
		return isInteger(t.Kind()) || isBytes(t) || t.Kind() == reflect.String || t.Kind() == reflect.Uintptr
	case KindFloat:
		switch t.Kind() {
		case reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
			return true
		}
	case KindString:
		if _, ok := arg.(error); ok {
			return true
		}
		return t.Kind() == reflect.String || isBytes(t) || t.Implements(stringerType)
	case KindPointer:
		switch t.Kind() {
		case reflect.Pointer, reflect.UnsafePointer, reflect.Uintptr,
			reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
			return true
		}
	case KindBool:
		return t.Kind() == reflect.Bool
	}
	return false
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}
