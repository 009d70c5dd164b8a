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

// Package bus defines the contract of the event bus link and the command
// envelope received from it. Transports live in subpackages.
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers/jsonutil"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/linkstate"
)

// Outbound event names.
const (
	EventInit          = "init"
	EventDataStreaming = "dataStreaming"
	EventData          = "data"
)

// EventCommand is the inbound event carrying a command envelope.
const EventCommand = "command"

// Command names understood by the bridge.
const (
	CommandStartLiveData       = "startLiveData"
	CommandScheduleMeasurement = "scheduleMeasurement"
	CommandStopLiveData        = "stopLiveData"
)

var (
	ErrInvalidCommand = errors.New("invalid command envelope")
	ErrSerialization  = errors.New("command data could not be serialized")
)

// Command is a single instruction received from the bus. Unknown command
// names are kept verbatim.
type Command struct {
	Name string
	Data json.RawMessage
}

type envelope struct {
	Command *string         `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DecodeCommand decodes a `{"command": ..., "data"?: ...}` envelope.
func DecodeCommand(body []byte) (Command, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Command{}, fmt.Errorf("%w: not a JSON object", ErrInvalidCommand)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if env.Command == nil {
		return Command{}, fmt.Errorf("%w: missing command name", ErrInvalidCommand)
	}

	cmd := Command{Name: *env.Command}
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		cmd.Data = env.Data
	}
	return cmd, nil
}

// CompactData returns the command data as compact JSON text, the form the
// device expects for start and schedule requests.
func (c Command) CompactData() (string, error) {
	if len(c.Data) == 0 {
		return "", fmt.Errorf("%w: %s has no data", ErrSerialization, c.Name)
	}
	data, err := jsonutil.Normalize(c.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return string(data), nil
}

// Link is a persistent, self-healing connection to the event bus.
type Link interface {
	// Connect blocks until the first connection succeeds or fails. Later
	// losses are repaired by the link itself.
	Connect(ctx context.Context) error
	// Emit is fire-and-forget. Events are dropped when not connected.
	Emit(event string, payload any)
	// Commands delivers inbound commands in arrival order. It is never
	// closed; consumers stop reading when the link is closed.
	Commands() <-chan Command
	SubscribeState(bufferSize int) (<-chan linkstate.State, func())
	State() linkstate.State
	Close() error
}
