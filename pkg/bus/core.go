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

package bus

import (
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/linkstate"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Defaults mirror the reconnect policy of socket.io-client.
const (
	DefaultReconnectMin = time.Second
	DefaultReconnectMax = 5 * time.Second
	DefaultCommandQueue = 16
)

// Core is the transport-independent half of a bus link: the state tracker,
// the ordered command queue and the shutdown signal. Transports embed it.
type Core struct {
	state    *linkstate.Tracker
	metrics  *metrics.Metrics
	commands chan Command
	done     chan struct{}
	once     sync.Once
	name     string
}

// NewCore creates a Core for the named transport. m may be nil.
func NewCore(name string, m *metrics.Metrics) *Core {
	return &Core{
		name:     name,
		metrics:  m,
		state:    linkstate.NewTracker("bus/" + name),
		commands: make(chan Command, DefaultCommandQueue),
		done:     make(chan struct{}),
	}
}

func (c *Core) Name() string {
	return c.name
}

func (c *Core) State() linkstate.State {
	return c.state.Get()
}

func (c *Core) SubscribeState(bufferSize int) (<-chan linkstate.State, func()) {
	return c.state.Subscribe(bufferSize)
}

func (c *Core) Commands() <-chan Command {
	return c.commands
}

// Done is closed once Shutdown has been called.
func (c *Core) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Shutdown has been called.
func (c *Core) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// SetState records a transition. Transitions after Shutdown are ignored.
func (c *Core) SetState(s linkstate.State) bool {
	if c.Closed() && s != linkstate.Closed {
		return false
	}
	changed := c.state.Set(s)
	if changed {
		c.metrics.RecordLinkState("bus", int(s))
	}
	return changed
}

// Shutdown closes Done and moves the link to Closed. It returns false if
// the link was already shut down.
func (c *Core) Shutdown() bool {
	first := false
	c.once.Do(func() {
		first = true
		close(c.done)
		c.state.Set(linkstate.Closed)
		c.metrics.RecordLinkState("bus", int(linkstate.Closed))
	})
	return first
}

// Deliver queues a decoded command. It blocks while the queue is full so
// arrival order is kept, and gives up once the link is shut down.
func (c *Core) Deliver(cmd Command) {
	c.metrics.RecordCommand(cmd.Name)
	select {
	case c.commands <- cmd:
	case <-c.done:
	}
}

// DeliverRaw decodes a command envelope and queues it. Invalid envelopes
// are logged and dropped.
func (c *Core) DeliverRaw(body []byte) {
	cmd, err := DecodeCommand(body)
	if err != nil {
		log.Warn().Err(err).Msgf("%s: dropping command: %s", c.name, string(body))
		return
	}
	log.Debug().Msgf("%s: received command: %s", c.name, cmd.Name)
	c.Deliver(cmd)
}

// Dropped logs and counts an event that could not be written.
func (c *Core) Dropped(event string, reason error) {
	log.Debug().Err(reason).Msgf("%s: dropped event %s", c.name, event)
	c.metrics.RecordDrop(event)
}

// Emitted counts an event written to the bus.
func (c *Core) Emitted(event string) {
	log.Debug().Msgf("%s: emitted event %s", c.name, event)
	c.metrics.RecordEmit(event)
}

// Reconnected counts a connection re-established after a loss.
func (c *Core) Reconnected() {
	log.Info().Msgf("%s: reconnected to bus", c.name)
	c.metrics.RecordBusReconnect()
}

// NewBackoff returns the exponential reconnect policy between min and max.
// Zero values fall back to the defaults.
func NewBackoff(minWait, maxWait time.Duration) *backoff.ExponentialBackOff {
	if minWait <= 0 {
		minWait = DefaultReconnectMin
	}
	if maxWait < minWait {
		maxWait = max(DefaultReconnectMax, minWait)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minWait
	b.MaxInterval = maxWait
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.Reset()
	return b
}
