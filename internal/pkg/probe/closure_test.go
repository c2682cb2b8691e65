// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameFunc(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}

	assert.True(t, SameFunc(otherFn, otherFn))
	assert.False(t, SameFunc(otherFn, r1.fn))
	// Method values share their wrapper code.
	assert.True(t, SameFunc(r1.fn, r2.fn))
	assert.True(t, SameFunc(nil, nil))
	assert.False(t, SameFunc(otherFn, nil))
}

func TestSamePrivate(t *testing.T) {
	type pair struct{ a, b int }
	p := &pair{1, 2}
	s := []int{1, 2, 3}
	m := map[string]int{"a": 1}

	testCases := []struct {
		name string
		a, b any
		want bool
	}{
		{name: "nil", a: nil, b: nil, want: true},
		{name: "nil and value", a: nil, b: 0, want: false},
		{name: "int", a: 42, b: 42, want: true},
		{name: "int differs", a: 42, b: 43, want: false},
		{name: "types differ", a: int32(1), b: int64(1), want: false},
		{name: "struct", a: pair{1, 2}, b: pair{1, 2}, want: true},
		{name: "pointer", a: p, b: p, want: true},
		{name: "pointer differs", a: p, b: &pair{1, 2}, want: false},
		{name: "slice", a: s, b: s, want: true},
		{name: "slice shorter", a: s, b: s[:2], want: false},
		{name: "slice copy", a: s, b: []int{1, 2, 3}, want: false},
		{name: "map", a: m, b: m, want: true},
		{name: "map differs", a: m, b: map[string]int{"a": 1}, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SamePrivate(tc.a, tc.b))
		})
	}
}

func TestClosureMatch(t *testing.T) {
	c := Closure{Func: otherFn, Private: "p"}
	assert.True(t, c.Match(otherFn, "p"))
	assert.True(t, c.Match(nil, "p"))
	assert.False(t, c.Match(otherFn, "q"))
	assert.False(t, c.Match((&recorder{}).fn, "p"))
}
