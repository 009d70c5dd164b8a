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

// Package store reads the cached measurement document written by the
// device firmware. The document is read from disk on every call; nothing is
// cached in memory, so each request sees whatever the device wrote last.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers/jsonutil"
	"github.com/spf13/afero"
)

// DefaultPath is where the firmware leaves its latest measurement, relative
// to the bridge working directory.
const DefaultPath = "../JSON/0"

var (
	ErrNotFound    = errors.New("payload file not found")
	ErrIO          = errors.New("payload file unreadable")
	ErrInvalidJSON = errors.New("payload file is not valid JSON")
	ErrMissingData = errors.New("payload file has no data field")
)

type document struct {
	Data json.RawMessage `json:"data"`
}

// Store is a read-only accessor for the cached payload file.
type Store struct {
	fs   afero.Fs
	path string
}

func New(fsys afero.Fs, path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{
		fs:   fsys,
		path: path,
	}
}

// NewOS returns a Store backed by the real filesystem.
func NewOS(path string) *Store {
	return New(afero.NewOsFs(), path)
}

func (s *Store) Path() string {
	return s.path
}

// Read loads the payload file and returns the JSON text of its data field,
// re-encoded in the compact form a JavaScript peer would produce.
func (s *Store) Read() (json.RawMessage, error) {
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	if len(doc.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingData, s.path)
	}

	data, err := jsonutil.Normalize(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	return data, nil
}
