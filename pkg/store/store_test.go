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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPath = "/srv/JSON/0"

func memStore(t *testing.T, content string) *Store {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, testPath, []byte(content), 0o644))
	return New(fsys, testPath)
}

func TestNew_DefaultPath(t *testing.T) {
	t.Parallel()

	s := New(afero.NewMemMapFs(), "")
	assert.Equal(t, DefaultPath, s.Path())
}

func TestRead(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "object data",
			content: `{"data":{"v":1}}`,
			want:    `{"v":1}`,
		},
		{
			name:    "data is compacted with key order kept",
			content: "{\n  \"data\": {\n    \"z\": [1, 2],\n    \"a\": \"x\"\n  },\n  \"params\": {}\n}",
			want:    `{"z":[1,2],"a":"x"}`,
		},
		{
			name:    "array data",
			content: `{"data":[{"f":88.1,"p":-40.5}]}`,
			want:    `[{"f":88.1,"p":-40.5}]`,
		},
		{
			name:    "numbers and escapes re-encoded",
			content: `{"data":{"v":1.0,"s":"\u0041","f":8.80e1}}`,
			want:    `{"v":1,"s":"A","f":88}`,
		},
		{
			name:    "null data",
			content: `{"data":null}`,
			want:    `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := memStore(t, tt.content).Read()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRead_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		content string
	}{
		{name: "invalid json", content: `{"data":`, wantErr: ErrInvalidJSON},
		{name: "not an object", content: `[1,2,3]`, wantErr: ErrInvalidJSON},
		{name: "empty file", content: ``, wantErr: ErrInvalidJSON},
		{name: "missing data", content: `{"params":{}}`, wantErr: ErrMissingData},
		{name: "null document", content: `null`, wantErr: ErrMissingData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := memStore(t, tt.content).Read()
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}
}

func TestRead_NotFound(t *testing.T) {
	t.Parallel()

	s := New(afero.NewMemMapFs(), testPath)
	_, err := s.Read()
	require.ErrorIs(t, err, ErrNotFound)
}

type failingFs struct {
	afero.Fs
}

func (failingFs) Open(string) (afero.File, error) {
	return nil, errors.New("input/output error")
}

func TestRead_IOError(t *testing.T) {
	t.Parallel()

	s := New(failingFs{Fs: afero.NewMemMapFs()}, testPath)
	_, err := s.Read()
	require.ErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRead_IsFreshEveryCall(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	s := New(fsys, testPath)

	require.NoError(t, afero.WriteFile(fsys, testPath, []byte(`{"data":{"v":1}}`), 0o644))
	first, err := s.Read()
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, testPath, []byte(`{"data":{"v":2}}`), 0o644))
	second, err := s.Read()
	require.NoError(t, err)

	assert.JSONEq(t, `{"v":1}`, string(first))
	assert.JSONEq(t, `{"v":2}`, string(second))
}

func TestNewOS(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "0")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":"ok"}`), 0o600))

	got, err := NewOS(path).Read()
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(got))
}
