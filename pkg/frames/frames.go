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

// Package frames decodes the text protocol spoken by the measurement device.
//
// The device writes frames shaped as {tag:{json-object}}: a brace-delimited
// wrapper holding a bare identifier, a colon and an embedded JSON object.
// Frames are written back to back with no delimiter, see ScanFrames.
package frames

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnrecognizedFrame = errors.New("unrecognized frame")
	ErrMalformedPayload  = errors.New("malformed frame payload")
)

// Tag identifies the kind of a decoded frame.
type Tag int

const (
	TagOther Tag = iota
	TagInitResponse
	TagDataStreaming
	TagData
)

// Wire names of the known tags.
const (
	NameInitResponse  = "initResponse"
	NameDataStreaming = "dataStreaming"
	NameData          = "data"
)

func (t Tag) String() string {
	switch t {
	case TagInitResponse:
		return NameInitResponse
	case TagDataStreaming:
		return NameDataStreaming
	case TagData:
		return NameData
	default:
		return "other"
	}
}

// Frame is one decoded unit of device output.
type Frame struct {
	// Name is the tag identifier exactly as sent by the device.
	Name string
	// Raw is the complete frame text.
	Raw     string
	Payload json.RawMessage
	Tag     Tag
}

func tagFor(name string) Tag {
	switch name {
	case NameInitResponse:
		return TagInitResponse
	case NameDataStreaming:
		return TagDataStreaming
	case NameData:
		return TagData
	default:
		return TagOther
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := range len(s) {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}

// Parse decodes a single device frame. Lines that do not have the
// {tag:{...}} shape return ErrUnrecognizedFrame, and a well-shaped frame
// whose payload is not valid JSON returns ErrMalformedPayload. A zero Frame
// is returned with every error.
func Parse(line string) (Frame, error) {
	trimmed := strings.TrimSpace(line)

	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return Frame{}, fmt.Errorf("%w: missing outer braces", ErrUnrecognizedFrame)
	}

	inner := trimmed[1 : len(trimmed)-1]
	name, payload, found := strings.Cut(inner, ":")
	if !found {
		return Frame{}, fmt.Errorf("%w: missing tag separator", ErrUnrecognizedFrame)
	}

	if !isIdentifier(name) {
		return Frame{}, fmt.Errorf("%w: invalid tag %q", ErrUnrecognizedFrame, name)
	}

	payload = strings.TrimSpace(payload)
	if len(payload) < 2 || payload[0] != '{' || payload[len(payload)-1] != '}' {
		return Frame{}, fmt.Errorf("%w: payload is not an object", ErrUnrecognizedFrame)
	}

	if !json.Valid([]byte(payload)) {
		return Frame{}, fmt.Errorf("%w: tag %s", ErrMalformedPayload, name)
	}

	return Frame{
		Tag:     tagFor(name),
		Name:    name,
		Payload: json.RawMessage(payload),
		Raw:     trimmed,
	}, nil
}
