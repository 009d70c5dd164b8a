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

// Package linkstate tracks the connection state of a single link and fans
// state changes out to subscribers without blocking the link.
package linkstate

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle state of a device or bus link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrNotConnected is wrapped by every outbound call made on a link that is
// not in the Connected state.
var ErrNotConnected = errors.New("link not connected")

// ConnError is a connect or send failure on a named link.
type ConnError struct {
	Err  error
	Link string
	Op   string
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Link, e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// NewConnError wraps err as a ConnError for the given link and operation.
func NewConnError(link, op string, err error) *ConnError {
	return &ConnError{Link: link, Op: op, Err: err}
}

// Tracker holds the current state of one link. Subscribers receive every
// transition on a buffered channel; when a subscriber falls behind, its
// oldest pending state is replaced so the latest state is never lost.
type Tracker struct {
	subscribers map[int]chan State
	name        string
	mu          syncutil.RWMutex
	nextID      int
	state       State
}

func NewTracker(name string) *Tracker {
	return &Tracker{
		name:        name,
		state:       Disconnected,
		subscribers: make(map[int]chan State),
	}
}

func (t *Tracker) Name() string {
	return t.name
}

func (t *Tracker) Get() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Set moves the tracker to s and notifies subscribers. Closed is terminal:
// once reached, further transitions are ignored. Setting the current state
// again is a no-op. Returns true if the state changed.
func (t *Tracker) Set(s State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == s || t.state == Closed {
		return false
	}

	prev := t.state
	t.state = s
	log.Debug().
		Str("link", t.name).
		Stringer("from", prev).
		Stringer("to", s).
		Msg("link state changed")

	for id, ch := range t.subscribers {
		select {
		case ch <- s:
		default:
			// drop the oldest pending state to make room for the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
				log.Warn().
					Str("link", t.name).
					Int("subscriber_id", id).
					Msg("subscriber channel full, dropping state change")
			}
		}
	}

	if s == Closed {
		for id, ch := range t.subscribers {
			close(ch)
			delete(t.subscribers, id)
		}
	}

	return true
}

// Subscribe returns a channel of state changes and a function that cancels
// the subscription. The channel is closed on unsubscribe or when the link
// reaches Closed. Subscribing to a closed tracker returns a closed channel.
func (t *Tracker) Subscribe(bufferSize int) (<-chan State, func()) {
	if bufferSize < 1 {
		bufferSize = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan State, bufferSize)
	if t.state == Closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subscribers[id] = ch

	return ch, func() { t.unsubscribe(id) }
}

func (t *Tracker) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.subscribers[id]; ok {
		delete(t.subscribers, id)
		close(ch)
	}
}
