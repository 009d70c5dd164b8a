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

// DefaultMaxFrameSize bounds a single frame read from the device stream.
const DefaultMaxFrameSize = 64 * 1024

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// ScanFrames is a bufio.SplitFunc that recovers frame boundaries from the
// device byte stream. A token starting with '{' ends at its matching '}',
// ignoring braces inside JSON strings. A newline outside a string always ends
// a token, so an unbalanced frame cannot swallow the rest of the stream. Text
// that does not start with '{' is returned up to the next newline or '{' so
// the caller can reject it. Whitespace between frames is skipped.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	start := 0
	for start < len(data) && isSpace(data[start]) {
		start++
	}
	if start == len(data) {
		return len(data), nil, nil
	}

	if data[start] != '{' {
		for i := start; i < len(data); i++ {
			switch data[i] {
			case '\n':
				return i + 1, data[start:i], nil
			case '{':
				return i, data[start:i], nil
			}
		}
		if atEOF {
			return len(data), data[start:], nil
		}
		return start, nil, nil
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, data[start : i+1], nil
			}
		case '\n':
			return i + 1, data[start:i], nil
		}
	}

	if atEOF {
		return len(data), data[start:], nil
	}

	// request more data, dropping the whitespace already skipped
	return start, nil, nil
}
