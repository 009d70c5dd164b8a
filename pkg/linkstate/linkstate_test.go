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

package linkstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "unknown(42)", State(42).String())
}

func TestNewTracker(t *testing.T) {
	t.Parallel()

	tr := NewTracker("device")
	assert.Equal(t, "device", tr.Name())
	assert.Equal(t, Disconnected, tr.Get())
}

func TestTracker_SetNotifiesSubscribers(t *testing.T) {
	t.Parallel()

	tr := NewTracker("bus")
	sub1, cancel1 := tr.Subscribe(4)
	defer cancel1()
	sub2, cancel2 := tr.Subscribe(4)
	defer cancel2()

	assert.True(t, tr.Set(Connecting))
	assert.True(t, tr.Set(Connected))

	assert.Equal(t, Connecting, <-sub1)
	assert.Equal(t, Connected, <-sub1)
	assert.Equal(t, Connecting, <-sub2)
	assert.Equal(t, Connected, <-sub2)
}

func TestTracker_SetSameStateIsNoop(t *testing.T) {
	t.Parallel()

	tr := NewTracker("bus")
	sub, cancel := tr.Subscribe(4)
	defer cancel()

	assert.True(t, tr.Set(Connected))
	assert.False(t, tr.Set(Connected))

	assert.Equal(t, Connected, <-sub)
	assert.Empty(t, sub)
}

func TestTracker_ClosedIsTerminal(t *testing.T) {
	t.Parallel()

	tr := NewTracker("device")
	sub, _ := tr.Subscribe(4)

	require.True(t, tr.Set(Closed))
	assert.False(t, tr.Set(Connected))
	assert.Equal(t, Closed, tr.Get())

	assert.Equal(t, Closed, <-sub)
	_, ok := <-sub
	assert.False(t, ok, "subscription should close on Closed")

	late, _ := tr.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed tracker yields a closed channel")
}

func TestTracker_SlowSubscriberKeepsLatest(t *testing.T) {
	t.Parallel()

	tr := NewTracker("bus")
	sub, cancel := tr.Subscribe(1)
	defer cancel()

	tr.Set(Connecting)
	tr.Set(Connected)
	tr.Set(Disconnected)

	assert.Equal(t, Disconnected, <-sub)
}

func TestTracker_Unsubscribe(t *testing.T) {
	t.Parallel()

	tr := NewTracker("bus")
	sub, cancel := tr.Subscribe(1)
	cancel()

	_, ok := <-sub
	assert.False(t, ok)
	assert.Empty(t, tr.subscribers)

	// safe to call twice
	cancel()
}

func TestConnError(t *testing.T) {
	t.Parallel()

	err := NewConnError("device", "send", ErrNotConnected)
	assert.Equal(t, "device send: link not connected", err.Error())
	require.ErrorIs(t, err, ErrNotConnected)

	var connErr *ConnError
	require.ErrorAs(t, error(err), &connErr)
	assert.Equal(t, "device", connErr.Link)
	assert.Equal(t, "send", connErr.Op)
	assert.NotErrorIs(t, err, errors.New("other"))
}
