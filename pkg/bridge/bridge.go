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

// Package bridge relays between one measurement device and one event bus.
//
// A single goroutine consumes device frames, bus commands and bus state
// changes, so the frames of one source are handled strictly in order and a
// frame, including its store read, is finished before the next is taken.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/bus"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/frames"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/linkstate"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// Lines sent to the device.
const (
	InitRequest = "init,0"
	StopRequest = "stop,0"
)

const busStateBuffer = 8

var ErrAlreadyStarted = errors.New("bridge already started")

// DeviceLink is the connection to the measurement device.
type DeviceLink interface {
	Connect(ctx context.Context) error
	Send(line string) error
	Lines() <-chan string
	State() linkstate.State
	Close() error
}

// PayloadStore returns the cached measurement data.
type PayloadStore interface {
	Read() (json.RawMessage, error)
}

type State int

const (
	Idle State = iota
	AwaitingDeviceConnect
	AwaitingBusConnect
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingDeviceConnect:
		return "awaiting_device"
	case AwaitingBusConnect:
		return "awaiting_bus"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Counters are running totals since the bridge started.
type Counters struct {
	FramesHandled   uint64 `json:"framesHandled"`
	ParseErrors     uint64 `json:"parseErrors"`
	EventsEmitted   uint64 `json:"eventsEmitted"`
	StoreFailures   uint64 `json:"storeFailures"`
	CommandsHandled uint64 `json:"commandsHandled"`
	SendFailures    uint64 `json:"sendFailures"`
	InitRequests    uint64 `json:"initRequests"`
}

// Snapshot is a point-in-time view of the bridge for the status surface.
type Snapshot struct {
	State          string   `json:"state"`
	Device         string   `json:"device"`
	Bus            string   `json:"bus"`
	Counters       Counters `json:"counters"`
	HandshakeArmed bool     `json:"handshakeArmed"`
}

type Option func(*Bridge)

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

type Bridge struct {
	device   DeviceLink
	bus      bus.Link
	store    PayloadStore
	metrics  *metrics.Metrics
	counters Counters
	mu       syncutil.RWMutex
	state    State
	armed    bool
}

// New creates an idle bridge. The bridge does not own the links until Run
// is called, after which it closes both when it terminates.
func New(device DeviceLink, busLink bus.Link, store PayloadStore, opts ...Option) *Bridge {
	b := &Bridge{
		device: device,
		bus:    busLink,
		store:  store,
		state:  Idle,
		armed:  true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// HandshakeArmed reports whether the next bus connection will request an
// init from the device.
func (b *Bridge) HandshakeArmed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.armed
}

func (b *Bridge) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		State:          b.state.String(),
		Device:         b.device.State().String(),
		Bus:            b.bus.State().String(),
		HandshakeArmed: b.armed,
		Counters:       b.counters,
	}
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()

	if prev != s {
		log.Info().Msgf("bridge state: %s -> %s", prev, s)
		b.metrics.RecordBridgeState(int(s))
	}
}

func (b *Bridge) count(f func(c *Counters)) {
	b.mu.Lock()
	f(&b.counters)
	b.mu.Unlock()
}

// Run connects the device, then the bus, and relays until the device
// connection ends or ctx is cancelled. Both cases are a clean shutdown and
// return nil. A failed initial connect on either link is returned.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.state != Idle {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.state = AwaitingDeviceConnect
	b.mu.Unlock()
	b.metrics.RecordBridgeState(int(AwaitingDeviceConnect))

	if err := b.device.Connect(ctx); err != nil {
		b.shutdown()
		if ctx.Err() != nil {
			log.Info().Msg("bridge cancelled while connecting to device")
			return nil
		}
		return fmt.Errorf("failed to connect to device: %w", err)
	}

	b.setState(AwaitingBusConnect)
	busStates, unsubscribe := b.bus.SubscribeState(busStateBuffer)
	defer unsubscribe()

	pending, hungUp, err := b.connectBus(ctx)
	if hungUp {
		log.Info().Msg("device connection ended while connecting to bus")
		b.shutdown()
		return nil
	}
	if err != nil {
		b.shutdown()
		if ctx.Err() != nil {
			log.Info().Msg("bridge cancelled while connecting to bus")
			return nil
		}
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	for _, line := range pending {
		b.handleLine(line)
	}
	return b.loop(ctx, busStates)
}

// connectBus runs the first bus connect while following the device, so a
// device hangup during a slow connect is not missed. Lines received in the
// meantime are returned in order for handling once the bus is up.
func (b *Bridge) connectBus(ctx context.Context) (pending []string, hungUp bool, err error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- b.bus.Connect(connCtx)
	}()

	lines := b.device.Lines()
	for {
		select {
		case err := <-result:
			return pending, false, err
		case line, ok := <-lines:
			if !ok {
				cancel()
				<-result
				return nil, true, nil
			}
			pending = append(pending, line)
		}
	}
}

func (b *Bridge) loop(ctx context.Context, busStates <-chan linkstate.State) error {
	lines := b.device.Lines()
	commands := b.bus.Commands()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bridge stopping")
			b.shutdown()
			return nil
		case line, ok := <-lines:
			if !ok {
				log.Info().Msg("device connection ended, stopping bridge")
				b.shutdown()
				return nil
			}
			b.handleLine(line)
		case cmd := <-commands:
			b.handleCommand(cmd)
		case st, ok := <-busStates:
			if !ok {
				busStates = nil
				continue
			}
			b.handleBusState(st)
		}
	}
}

func (b *Bridge) shutdown() {
	b.setState(Terminated)
	if err := b.bus.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing bus link")
	}
	if err := b.device.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing device link")
	}
}

func (b *Bridge) handleBusState(st linkstate.State) {
	log.Debug().Msgf("bus state: %s", st)
	if st != linkstate.Connected {
		return
	}

	b.mu.Lock()
	armed := b.armed
	b.armed = false
	b.mu.Unlock()

	if armed {
		log.Info().Msg("bus connected, requesting init from device")
		b.count(func(c *Counters) { c.InitRequests++ })
		b.metrics.RecordInitRequest()
		b.send(InitRequest)
	}

	if b.State() == AwaitingBusConnect {
		b.setState(Running)
	}
}

func (b *Bridge) handleLine(line string) {
	frame, err := frames.Parse(line)
	if err != nil {
		log.Warn().Err(err).Msgf("dropping device line: %s", line)
		b.count(func(c *Counters) { c.ParseErrors++ })
		b.metrics.RecordParseError(parseReason(err))
		return
	}

	b.count(func(c *Counters) { c.FramesHandled++ })
	b.metrics.RecordFrame(frame.Tag.String())

	switch frame.Tag {
	case frames.TagInitResponse:
		b.mu.Lock()
		b.armed = true
		b.mu.Unlock()
		payload := frame.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		b.emit(bus.EventInit, payload)
	case frames.TagDataStreaming:
		b.forwardStored(bus.EventDataStreaming)
	case frames.TagData:
		b.forwardStored(bus.EventData)
	case frames.TagOther:
		log.Info().Msgf("device frame %s: %s", frame.Name, frame.Raw)
	}
}

// forwardStored reads the store once and emits its data as compact JSON
// text. Store failures drop the event.
func (b *Bridge) forwardStored(event string) {
	data, err := b.store.Read()
	b.metrics.RecordStoreRead(err == nil)
	if err != nil {
		log.Error().Err(err).Msgf("failed to read stored payload for %s", event)
		b.count(func(c *Counters) { c.StoreFailures++ })
		return
	}
	b.emit(event, string(data))
}

func (b *Bridge) emit(event string, payload any) {
	b.count(func(c *Counters) { c.EventsEmitted++ })
	b.bus.Emit(event, payload)
}

func (b *Bridge) handleCommand(cmd bus.Command) {
	log.Info().Msgf("bus command: %s", cmd.Name)
	b.count(func(c *Counters) { c.CommandsHandled++ })

	switch cmd.Name {
	case bus.CommandStartLiveData, bus.CommandScheduleMeasurement:
		line, err := cmd.CompactData()
		if err != nil {
			log.Error().Err(err).Msgf("dropping command %s", cmd.Name)
			return
		}
		b.send(line)
	case bus.CommandStopLiveData:
		b.send(StopRequest)
	default:
		log.Warn().Msgf("ignoring unknown command: %s", cmd.Name)
	}
}

func (b *Bridge) send(line string) {
	err := b.device.Send(line)
	b.metrics.RecordDeviceSend(err == nil)
	if err != nil {
		log.Error().Err(err).Msgf("failed to send to device: %s", line)
		b.count(func(c *Counters) { c.SendFailures++ })
	}
}

func parseReason(err error) string {
	switch {
	case errors.Is(err, frames.ErrMalformedPayload):
		return "malformed"
	default:
		return "unrecognized"
	}
}
