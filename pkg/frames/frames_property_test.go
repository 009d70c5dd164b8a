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

package frames

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// ============================================================================
// Generators
// ============================================================================

func tagNameGen() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.SampledFrom([]string{NameInitResponse, NameDataStreaming, NameData}),
		rapid.StringMatching(`[A-Za-z_][A-Za-z0-9_]{0,15}`),
	)
}

// payloadGen generates JSON objects with string, number and bool values,
// including strings holding braces, quotes and colons.
func payloadGen() *rapid.Generator[map[string]any] {
	value := rapid.OneOf(
		rapid.Map(rapid.String(), func(s string) any { return s }),
		rapid.Map(rapid.StringMatching(`[{}:",\\ a-z]{0,12}`), func(s string) any { return s }),
		rapid.Map(rapid.IntRange(-100000, 100000), func(i int) any { return float64(i) }),
		rapid.Map(rapid.Bool(), func(b bool) any { return b }),
	)
	return rapid.MapOfN(rapid.StringMatching(`[a-z_]{1,10}`), value, 0, 6)
}

func frameLine(t *rapid.T) (name string, payload map[string]any, line string) {
	name = tagNameGen().Draw(t, "tag")
	payload = payloadGen().Draw(t, "payload")
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return name, payload, "{" + name + ":" + string(b) + "}"
}

// ============================================================================
// Parse properties
// ============================================================================

// TestPropertyParseValidFrames verifies every well-formed frame decodes to
// its tag and payload.
func TestPropertyParseValidFrames(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		name, payload, line := frameLine(t)

		frame, err := Parse(line)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", line, err)
		}
		if frame.Name != name {
			t.Fatalf("expected name %q, got %q", name, frame.Name)
		}
		if frame.Tag != tagFor(name) {
			t.Fatalf("expected tag %v, got %v", tagFor(name), frame.Tag)
		}

		var got map[string]any
		if err := json.Unmarshal(frame.Payload, &got); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if len(payload) == 0 && len(got) == 0 {
			return
		}
		if !reflect.DeepEqual(payload, got) {
			t.Fatalf("payload mismatch: want %v, got %v", payload, got)
		}
	})
}

// TestPropertyParseRejectsUnwrapped verifies text without the outer brace
// wrapper is never accepted.
func TestPropertyParseRejectsUnwrapped(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "line")
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			return
		}

		frame, err := Parse(s)
		if err == nil {
			t.Fatalf("Parse(%q) accepted unwrapped text: %+v", s, frame)
		}
		if !errorIs(err, ErrUnrecognizedFrame) {
			t.Fatalf("expected ErrUnrecognizedFrame, got %v", err)
		}
	})
}

// TestPropertyParseNeverPartial verifies a failed parse never returns a
// partially filled frame.
func TestPropertyParseNeverPartial(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		name := tagNameGen().Draw(t, "tag")
		body := rapid.StringMatching(`\{[a-z0-9:",{} ]{0,20}\}`).Draw(t, "body")
		line := "{" + name + ":" + body + "}"

		frame, err := Parse(line)
		if err != nil {
			if !reflect.DeepEqual(frame, Frame{}) {
				t.Fatalf("partial frame returned with error: %+v", frame)
			}
			if !errorIs(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload for %q, got %v", line, err)
			}
			return
		}
		if !json.Valid(frame.Payload) {
			t.Fatalf("accepted invalid payload %q", frame.Payload)
		}
	})
}

// ============================================================================
// ScanFrames properties
// ============================================================================

// TestPropertyScanFramesRecoversConcatenation verifies that frames written
// back to back come out of the splitter one by one, whatever the read size.
func TestPropertyScanFramesRecoversConcatenation(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 8).Draw(t, "count")
		lines := make([]string, 0, count)
		var sb strings.Builder
		for i := range count {
			_, _, line := frameLine(t)
			lines = append(lines, line)
			sb.WriteString(line)
			if rapid.Bool().Draw(t, "newline"+string(rune('0'+i))) {
				sb.WriteString("\n")
			}
		}

		bufSize := rapid.IntRange(1, 64).Draw(t, "bufSize")
		got := scanString(t, sb.String(), bufSize)
		if !reflect.DeepEqual(lines, got) {
			t.Fatalf("want %q, got %q", lines, got)
		}
	})
}
