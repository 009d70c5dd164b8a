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

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/bus"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/linkstate"
)

// fakeDevice is an in-memory DeviceLink.
type fakeDevice struct {
	connectErr error
	sendErr    error
	lines      chan string
	sent       []string
	mu         sync.Mutex
	closeOnce  sync.Once
	state      linkstate.State
	closes     int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{lines: make(chan string)}
}

func (d *fakeDevice) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return linkstate.NewConnError("device", "connect", d.connectErr)
	}
	d.state = linkstate.Connected
	return nil
}

func (d *fakeDevice) Send(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != linkstate.Connected {
		return linkstate.NewConnError("device", "send", linkstate.ErrNotConnected)
	}
	if d.sendErr != nil {
		return linkstate.NewConnError("device", "send", d.sendErr)
	}
	d.sent = append(d.sent, line)
	return nil
}

func (d *fakeDevice) Lines() <-chan string {
	return d.lines
}

func (d *fakeDevice) State() linkstate.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.state = linkstate.Closed
	d.closes++
	d.mu.Unlock()
	d.hangup()
	return nil
}

// hangup ends the line sequence as a peer close would.
func (d *fakeDevice) hangup() {
	d.closeOnce.Do(func() { close(d.lines) })
}

func (d *fakeDevice) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

type emitted struct {
	event   string
	payload any
}

// fakeBus is an in-memory bus.Link built on the shared core.
type fakeBus struct {
	*bus.Core
	connectErr error
	// connectGate, when set, holds Connect until it is closed or the
	// context ends.
	connectGate chan struct{}
	events     []emitted
	mu         sync.Mutex
}

func newFakeBus() *fakeBus {
	return &fakeBus{Core: bus.NewCore("fake", nil)}
}

func (b *fakeBus) Connect(ctx context.Context) error {
	if b.connectGate != nil {
		b.SetState(linkstate.Connecting)
		select {
		case <-b.connectGate:
		case <-ctx.Done():
			b.SetState(linkstate.Disconnected)
			return linkstate.NewConnError("bus", "connect", ctx.Err())
		}
	}
	if b.connectErr != nil {
		b.SetState(linkstate.Disconnected)
		return linkstate.NewConnError("bus", "connect", b.connectErr)
	}
	b.SetState(linkstate.Connecting)
	b.SetState(linkstate.Connected)
	return nil
}

func (b *fakeBus) Emit(event string, payload any) {
	if b.State() != linkstate.Connected {
		b.Dropped(event, linkstate.ErrNotConnected)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, emitted{event: event, payload: payload})
}

func (b *fakeBus) Close() error {
	b.Shutdown()
	return nil
}

func (b *fakeBus) Events() []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]emitted, len(b.events))
	copy(out, b.events)
	return out
}

// fakeStore returns a fixed document's data, or an error.
type fakeStore struct {
	err   error
	data  json.RawMessage
	mu    sync.Mutex
	reads int
}

func (s *fakeStore) Read() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func (s *fakeStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

var errStoreMissing = errors.New("store: file not found")
