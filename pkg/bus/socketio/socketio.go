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

// Package socketio is a bus link speaking Socket.IO v4 over the Engine.IO
// websocket transport. Only text packets are supported.
package socketio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/bus"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/linkstate"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/metrics"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	TransportName = "socketio"
	linkName      = "bus"
	handshakeWait = 20 * time.Second
)

var ErrAlreadyConnected = errors.New("link already connected or closed")

type Option func(*Link)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Link) {
		l.clock = clock
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(l *Link) {
		l.dialer = dialer
	}
}

// WithNamespace selects the Socket.IO namespace. When unset or "/", the
// path of the bus address is used, so "http://host/monitor" joins
// "/monitor".
func WithNamespace(ns string) Option {
	return func(l *Link) {
		if ns != "" {
			l.namespace = ns
		}
	}
}

// WithConnectTimeout bounds each connection attempt. Zero means none.
func WithConnectTimeout(d time.Duration) Option {
	return func(l *Link) {
		l.connectTimeout = d
	}
}

func WithReconnect(minWait, maxWait time.Duration) Option {
	return func(l *Link) {
		l.reconnectMin = minWait
		l.reconnectMax = maxWait
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Link) {
		l.metrics = m
	}
}

func WithHeader(h http.Header) Option {
	return func(l *Link) {
		l.header = h
	}
}

// session is one established Engine.IO connection.
type session struct {
	conn *websocket.Conn
	open openPacket
}

type Link struct {
	*bus.Core
	ctx            context.Context
	clock          clockwork.Clock
	dialer         *websocket.Dialer
	metrics        *metrics.Metrics
	conn           *websocket.Conn
	header         http.Header
	cancel         context.CancelFunc
	watchdog       clockwork.Timer
	endpoint       string
	namespace      string
	wg             sync.WaitGroup
	connectTimeout time.Duration
	reconnectMin   time.Duration
	reconnectMax   time.Duration
	mu             syncutil.Mutex // protects conn, watchdog and started
	writeMu        syncutil.Mutex // one concurrent writer per websocket
	started        bool
}

// New creates a Socket.IO link to the bus at rawURL (http, https, ws or
// wss). Nothing is dialed until Connect.
func New(rawURL string, opts ...Option) (*Link, error) {
	endpoint, urlNamespace, err := EndpointURL(rawURL)
	if err != nil {
		return nil, err
	}

	l := &Link{
		endpoint:     endpoint,
		clock:        clockwork.NewRealClock(),
		dialer:       websocket.DefaultDialer,
		reconnectMin: bus.DefaultReconnectMin,
		reconnectMax: bus.DefaultReconnectMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.namespace == "" || l.namespace == "/" {
		l.namespace = urlNamespace
	}
	l.Core = bus.NewCore(TransportName, l.metrics)
	l.ctx, l.cancel = context.WithCancel(context.Background())

	return l, nil
}

func (l *Link) Endpoint() string {
	return l.endpoint
}

func (l *Link) Namespace() string {
	return l.namespace
}

// Connect performs the first connection. Later losses are repaired in the
// background with exponential backoff.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.started || l.Closed() {
		l.mu.Unlock()
		return linkstate.NewConnError(linkName, "connect", ErrAlreadyConnected)
	}
	l.started = true
	l.mu.Unlock()

	l.SetState(linkstate.Connecting)
	log.Info().Msgf("connecting to socket.io bus at %s", l.endpoint)

	dialCtx, cancel := mergeDone(ctx, l.ctx)
	defer cancel()

	s, err := l.dial(dialCtx)
	if err != nil {
		l.SetState(linkstate.Disconnected)
		return linkstate.NewConnError(linkName, "connect", err)
	}
	if !l.attach(s) {
		return linkstate.NewConnError(linkName, "connect", ErrAlreadyConnected)
	}

	l.SetState(linkstate.Connected)
	log.Info().Msgf("connected to socket.io bus, sid: %s", s.open.SID)

	l.wg.Add(1)
	go l.run(s)
	return nil
}

// Emit writes a `42["event",payload]` packet. Events are dropped when the
// link is not connected or the write fails.
func (l *Link) Emit(event string, payload any) {
	if l.State() != linkstate.Connected {
		l.Dropped(event, linkstate.ErrNotConnected)
		return
	}

	text, err := eventPacket(l.namespace, event, payload)
	if err != nil {
		l.Dropped(event, err)
		return
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		l.Dropped(event, linkstate.ErrNotConnected)
		return
	}

	if err := l.write(conn, text); err != nil {
		l.Dropped(event, err)
		return
	}
	l.Emitted(event)
}

// Close disconnects from the namespace and stops reconnecting. Safe to call
// multiple times.
func (l *Link) Close() error {
	if !l.Shutdown() {
		return nil
	}
	l.cancel()

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn != nil {
		if err := l.write(conn, disconnectPacket(l.namespace)); err != nil {
			log.Debug().Err(err).Msg("error sending socket.io disconnect")
		}
		_ = conn.Close()
	}

	l.wg.Wait()
	log.Info().Msg("socket.io bus link closed")
	return nil
}

func (l *Link) write(conn *websocket.Conn, text string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("failed to write to socket.io bus: %w", err)
	}
	return nil
}

// attach makes s the current connection. It fails if the link was closed
// in the meantime, in which case s is closed.
func (l *Link) attach(s *session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Closed() {
		_ = s.conn.Close()
		return false
	}
	l.conn = s.conn
	return true
}

func (l *Link) detach(s *session) {
	l.mu.Lock()
	if l.conn == s.conn {
		l.conn = nil
	}
	l.mu.Unlock()
	_ = s.conn.Close()
}

// dial opens the websocket, reads the open packet and joins the namespace.
func (l *Link) dial(ctx context.Context) (*session, error) {
	if l.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.connectTimeout)
		defer cancel()
	}

	conn, resp, err := l.dialer.DialContext(ctx, l.endpoint, l.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial socket.io bus: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	s, err := l.handshake(conn)
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("socket.io handshake interrupted: %w", ctx.Err())
		}
		return nil, err
	}
	if !stop() {
		return nil, fmt.Errorf("socket.io handshake interrupted: %w", ctx.Err())
	}
	return s, nil
}

func (l *Link) handshake(conn *websocket.Conn) (*session, error) {
	// handshake packets are expected promptly even without a connect timeout
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
	}()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	op, err := parseOpen(msg)
	if err != nil {
		return nil, err
	}
	s := &session{conn: conn, open: op}

	if err := l.write(conn, connectPacket(l.namespace)); err != nil {
		return nil, err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if len(msg) == 0 {
			continue
		}

		switch msg[0] {
		case enginePing:
			if err := l.write(conn, string(enginePong)+string(msg[1:])); err != nil {
				return nil, err
			}
			continue
		case engineClose:
			return nil, ErrServerClosed
		case engineMessage:
		default:
			continue
		}

		pkt, err := parsePacket(string(msg[1:]))
		if err != nil || pkt.namespace != l.namespace {
			continue
		}
		switch pkt.kind {
		case packetConnect:
			return s, nil
		case packetConnectError:
			return nil, fmt.Errorf("%w: %s", ErrConnectRefused, pkt.data)
		}
	}
}

// run serves the current session and reconnects when it is lost, until the
// link is closed.
func (l *Link) run(s *session) {
	defer l.wg.Done()

	bo := bus.NewBackoff(l.reconnectMin, l.reconnectMax)
	for {
		err := l.serve(s)
		if l.Closed() {
			return
		}
		log.Warn().Err(err).Msg("socket.io bus connection lost")
		l.SetState(linkstate.Disconnected)

		bo.Reset()
		s = nil
		for s == nil {
			wait := bo.NextBackOff()
			log.Debug().Msgf("reconnecting to socket.io bus in %s", wait)
			select {
			case <-l.Done():
				return
			case <-l.clock.After(wait):
			}

			l.SetState(linkstate.Connecting)
			next, err := l.dial(l.ctx)
			if err != nil {
				if l.Closed() {
					return
				}
				log.Warn().Err(err).Msg("socket.io bus reconnect failed")
				l.SetState(linkstate.Disconnected)
				continue
			}
			s = next
		}

		if !l.attach(s) {
			return
		}
		l.SetState(linkstate.Connected)
		l.Reconnected()
	}
}

// serve reads packets until the connection fails, the server closes it or
// the ping watchdog fires.
func (l *Link) serve(s *session) error {
	defer l.detach(s)

	stopWatchdog := l.startWatchdog(s)
	defer stopWatchdog()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read from socket.io bus: %w", err)
		}
		if err := l.handle(s, msg); err != nil {
			return err
		}
	}
}

func (l *Link) handle(s *session, msg []byte) error {
	if len(msg) == 0 {
		return nil
	}

	switch msg[0] {
	case enginePing:
		l.resetWatchdog(s)
		if err := l.write(s.conn, string(enginePong)+string(msg[1:])); err != nil {
			return err
		}
	case engineClose:
		return ErrServerClosed
	case engineMessage:
		return l.handlePacket(s, string(msg[1:]))
	case engineNoop, engineUpgrade, enginePong:
	default:
		log.Debug().Msgf("ignoring engine.io packet: %q", msg)
	}
	return nil
}

func (l *Link) handlePacket(s *session, text string) error {
	pkt, err := parsePacket(text)
	if err != nil {
		log.Warn().Err(err).Msg("invalid socket.io packet")
		return nil
	}
	if pkt.namespace != l.namespace {
		return nil
	}

	switch pkt.kind {
	case packetEvent:
		l.handleEvent(s, pkt)
	case packetDisconnect:
		return ErrServerClosed
	case packetConnectError:
		return fmt.Errorf("%w: %s", ErrConnectRefused, pkt.data)
	case packetBinaryEvent, packetBinaryAck:
		log.Warn().Msg("binary socket.io packets are not supported")
	case packetConnect, packetAck:
	}
	return nil
}

func (l *Link) handleEvent(s *session, pkt packet) {
	name, args, err := eventArgs(pkt.data)
	if err != nil {
		log.Warn().Err(err).Msg("invalid socket.io event")
		return
	}

	if pkt.hasAck {
		if err := l.write(s.conn, ackPacket(l.namespace, pkt.ackID)); err != nil {
			log.Debug().Err(err).Msg("error acknowledging socket.io event")
		}
	}

	if name != bus.EventCommand {
		log.Debug().Msgf("ignoring socket.io event: %s", name)
		return
	}
	if len(args) == 0 {
		log.Warn().Msg("socket.io command event without a body")
		return
	}
	l.DeliverRaw(args[0])
}

// startWatchdog closes the connection when no ping arrives within
// pingInterval+pingTimeout.
func (l *Link) startWatchdog(s *session) func() {
	deadline := s.open.pingDeadline()
	if deadline <= 0 {
		return func() {}
	}

	timer := l.clock.NewTimer(deadline)
	l.mu.Lock()
	l.watchdog = timer
	l.mu.Unlock()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-timer.Chan():
			log.Warn().Err(ErrPingTimeout).Msgf("no ping from socket.io bus in %s", deadline)
			_ = s.conn.Close()
		case <-done:
		}
	}()

	return func() {
		timer.Stop()
		close(done)
		wg.Wait()
		l.mu.Lock()
		if l.watchdog == timer {
			l.watchdog = nil
		}
		l.mu.Unlock()
	}
}

func (l *Link) resetWatchdog(s *session) {
	l.mu.Lock()
	timer := l.watchdog
	l.mu.Unlock()
	if timer != nil {
		timer.Reset(s.open.pingDeadline())
	}
}

// mergeDone returns a context cancelled when either parent is done.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
