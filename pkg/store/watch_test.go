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

package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	events []FileEvent
	mu     sync.Mutex
}

func (l *eventLog) add(ev FileEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) has(want FileEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev == want {
			return true
		}
	}
	return false
}

func TestWatch_ReportsWritesAndRemovals(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "0")
	s := NewOS(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got eventLog
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, got.add)
	}()

	// Writes made before the watch is registered are not seen, so keep
	// writing until one is.
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte(`{"data":{"v":1}}`), 0o600); err != nil {
			return false
		}
		return got.has(FileWritten)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return got.has(FileRemoved)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	t.Parallel()

	s := NewOS(filepath.Join(t.TempDir(), "missing", "0"))
	err := s.Watch(context.Background(), func(FileEvent) {
		t.Error("no events expected")
	})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want FileEvent
		op   fsnotify.Op
		ok   bool
	}{
		{op: fsnotify.Write, want: FileWritten, ok: true},
		{op: fsnotify.Create, want: FileWritten, ok: true},
		{op: fsnotify.Remove, want: FileRemoved, ok: true},
		{op: fsnotify.Rename, want: FileRemoved, ok: true},
		{op: fsnotify.Chmod, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			t.Parallel()
			got, ok := classify(tt.op)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
