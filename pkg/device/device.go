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

// Package device owns the raw byte-stream connection to the measurement
// device. The link never reconnects: once the device goes away the link is
// Closed for good and Lines ends.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/frames"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/linkstate"
	"github.com/rs/zerolog/log"
)

const linkName = "device"

var ErrAlreadyConnected = errors.New("link already connected or closed")

type Option func(*Link)

// WithTerminator appends term to every line passed to Send.
func WithTerminator(term string) Option {
	return func(l *Link) {
		l.terminator = term
	}
}

// WithMaxFrameSize bounds a single frame read from the device.
func WithMaxFrameSize(size int) Option {
	return func(l *Link) {
		if size > 0 {
			l.maxFrameSize = size
		}
	}
}

type Link struct {
	dialer       Dialer
	conn         io.ReadWriteCloser
	state        *linkstate.Tracker
	lines        chan string
	done         chan struct{}
	terminator   string
	maxFrameSize int
	closeOnce    sync.Once
	mu           syncutil.Mutex // protects conn and reading
	writeMu      syncutil.Mutex // serializes Send
	reading      bool
}

func NewLink(dialer Dialer, opts ...Option) *Link {
	l := &Link{
		dialer:       dialer,
		state:        linkstate.NewTracker(linkName),
		lines:        make(chan string),
		done:         make(chan struct{}),
		maxFrameSize: frames.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Link) Address() string {
	return l.dialer.Address()
}

func (l *Link) State() linkstate.State {
	return l.state.Get()
}

func (l *Link) SubscribeState(bufferSize int) (<-chan linkstate.State, func()) {
	return l.state.Subscribe(bufferSize)
}

// Lines returns the frames received from the device, in arrival order. The
// channel is closed when the connection ends or the link is closed.
func (l *Link) Lines() <-chan string {
	return l.lines
}

// Connect dials the device. It may only be called once.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.state.Get() != linkstate.Disconnected {
		l.mu.Unlock()
		return linkstate.NewConnError(linkName, "connect", ErrAlreadyConnected)
	}
	l.state.Set(linkstate.Connecting)
	l.mu.Unlock()

	log.Info().Msgf("connecting to device at %s", l.dialer.Address())

	conn, err := l.dialer.Dial(ctx)
	if err != nil {
		l.state.Set(linkstate.Disconnected)
		return linkstate.NewConnError(linkName, "connect", err)
	}

	l.mu.Lock()
	if l.state.Get() == linkstate.Closed {
		l.mu.Unlock()
		_ = conn.Close()
		return linkstate.NewConnError(linkName, "connect", ErrAlreadyConnected)
	}
	l.conn = conn
	l.reading = true
	l.state.Set(linkstate.Connected)
	l.mu.Unlock()

	log.Info().Msgf("device connected: %s", l.dialer.Address())

	go l.readLoop(conn)
	return nil
}

func (l *Link) readLoop(conn io.Reader) {
	defer close(l.lines)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, l.maxFrameSize)), l.maxFrameSize)
	scanner.Split(frames.ScanFrames)

	for scanner.Scan() {
		line := scanner.Text()
		log.Debug().Msgf("device sent: %s", line)
		select {
		case l.lines <- line:
		case <-l.done:
			return
		}
	}

	select {
	case <-l.done:
		// closed locally, read error is expected
	default:
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("device connection lost")
		} else {
			log.Info().Msg("device closed the connection")
		}
		if err := l.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing device connection")
		}
	}
}

// Send writes line, plus the configured terminator, to the device. Calls
// are serialized so concurrent sends never interleave on the wire.
func (l *Link) Send(line string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	conn := l.conn
	st := l.state.Get()
	l.mu.Unlock()

	if st != linkstate.Connected || conn == nil {
		return linkstate.NewConnError(linkName, "send", linkstate.ErrNotConnected)
	}

	if _, err := io.WriteString(conn, line+l.terminator); err != nil {
		return linkstate.NewConnError(linkName, "send", err)
	}

	log.Debug().Msgf("sent to device: %s", line)
	return nil
}

// Close releases the connection and ends Lines. Safe to call multiple times.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)

		l.mu.Lock()
		l.state.Set(linkstate.Closed)
		conn := l.conn
		reading := l.reading
		l.mu.Unlock()

		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				err = fmt.Errorf("failed to close device connection: %w", cerr)
			}
		}
		if !reading {
			close(l.lines)
		}
	})
	return err
}
