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
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileEvent is a change to the payload file seen on disk.
type FileEvent string

const (
	FileWritten FileEvent = "write"
	FileRemoved FileEvent = "remove"
)

// Watch reports changes to the payload file until ctx ends. The parent
// directory is watched rather than the file, so a file that is missing at
// start or replaced by rename is still followed. The file is never read
// here; Read stays the only place the document is loaded.
func (s *Store) Watch(ctx context.Context, onEvent func(FileEvent)) error {
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create payload watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close payload watcher")
		}
	}()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Debug().Str("path", s.path).Msg("watching payload file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if ev, ok := classify(event.Op); ok {
				log.Debug().Str("path", event.Name).Str("op", string(ev)).Msg("payload file changed")
				onEvent(ev)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("error in payload watcher")
		}
	}
}

func classify(op fsnotify.Op) (FileEvent, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return FileRemoved, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Create):
		return FileWritten, true
	default:
		return "", false
	}
}
