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

package helpers

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSHelper_WritePayload(t *testing.T) {
	t.Parallel()

	h := NewMemoryFS()
	require.NoError(t, h.WritePayload("/srv/JSON/0", map[string]int{"v": 2}))
	assert.True(t, h.FileExists("/srv/JSON/0"))

	data, err := afero.ReadFile(h.Fs, "/srv/JSON/0")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"v":2}}`, string(data))

	require.NoError(t, h.Remove("/srv/JSON/0"))
	assert.False(t, h.FileExists("/srv/JSON/0"))
}
