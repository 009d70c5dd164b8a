// Zaparoo Bridge
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Bridge.
//
// Zaparoo Bridge is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Bridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Bridge.  If not, see <http://www.gnu.org/licenses/>.

package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "whitespace", in: "{ \"z\" : [1, 2],\n \"a\": \"x\" }", want: `{"z":[1,2],"a":"x"}`},
		{name: "trailing zero fraction", in: `{"v":1.0}`, want: `{"v":1}`},
		{name: "unicode escape", in: `{"s":"\u0041"}`, want: `{"s":"A"}`},
		{name: "number and escape", in: `{"v":1.0,"s":"\u0041"}`, want: `{"v":1,"s":"A"}`},
		{name: "exponent", in: `[1E3, 2.50e-1, 1e21, 1e-7, 0.000001]`, want: `[1000,0.25,1e+21,1e-7,0.000001]`},
		{name: "negative zero", in: `-0.0`, want: `0`},
		{name: "overflow", in: `1e400`, want: `null`},
		{name: "large integer", in: `12345678901234567890`, want: `12345678901234567000`},
		{name: "html is not escaped", in: `"<a&b>"`, want: `"<a&b>"`},
		{name: "control characters", in: `"\u0001\u001f\t\/"`, want: `"\u0001\u001f\t/"`},
		{name: "line separator kept literal", in: `"\u2028"`, want: "\"\u2028\""},
		{name: "duplicate key keeps first position", in: `{"a":1,"b":2,"a":3}`, want: `{"a":3,"b":2}`},
		{name: "index keys first", in: `{"b":1,"10":2,"a":3,"2":4,"01":5}`, want: `{"2":4,"10":2,"b":1,"a":3,"01":5}`},
		{name: "nested", in: `{"x":{"y":[{"z":1.50}]}}`, want: `{"x":{"y":[{"z":1.5}]}}`},
		{name: "empty containers", in: `{"o":{},"a":[]}`, want: `{"o":{},"a":[]}`},
		{name: "literals", in: `[true,false,null]`, want: `[true,false,null]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{``, `{"band":`, `[1,`, `{"a":1}}`, `1 2`, `nope`} {
		_, err := Normalize([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestArrayIndex(t *testing.T) {
	t.Parallel()

	for key, want := range map[string]bool{
		"0":          true,
		"7":          true,
		"4294967294": true,
		"4294967295": false,
		"00":         false,
		"-1":         false,
		"+1":         false,
		"1.5":        false,
		"":           false,
		"a":          false,
	} {
		_, ok := arrayIndex(key)
		assert.Equal(t, want, ok, key)
	}
}

// TestPropertyNormalizeIsStable checks that normalized text decodes to
// the same value and normalizes to itself.
func TestPropertyNormalizeIsStable(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.OneOf(
			rapid.Just[any](nil),
			rapid.Map(rapid.Bool(), func(b bool) any { return b }),
			rapid.Map(rapid.Float64Range(-1e9, 1e9), func(f float64) any { return f }),
			rapid.Map(rapid.String(), func(s string) any { return s }),
		)).Draw(t, "data")

		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		once, err := Normalize(raw)
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("normalize again: %v", err)
		}
		if string(once) != string(twice) {
			t.Fatalf("not stable: %s then %s", once, twice)
		}

		var got []any
		if err := json.Unmarshal(once, &got); err != nil {
			t.Fatalf("normalized text is not JSON: %v", err)
		}
		if len(got) != len(data) {
			t.Fatalf("got %d values, want %d", len(got), len(data))
		}
		for i := range data {
			if got[i] != data[i] {
				t.Fatalf("index %d: got %v, want %v", i, got[i], data[i])
			}
		}
	})
}
