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
	"os"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:paralleltest // mutates the global logger
func TestInitLogging_WritesLogFile(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs", "nested")

	require.NoError(t, InitLogging(logDir, true, nil))
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Info().Msg("bridge logging test line")

	data, err := os.ReadFile(filepath.Join(logDir, config.LogFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "bridge logging test line")
	assert.NotNil(t, LogWriter())
}

//nolint:paralleltest // mutates the global logger
func TestInitLogging_InfoLevel(t *testing.T) {
	require.NoError(t, InitLogging(t.TempDir(), false, nil))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

//nolint:paralleltest // uses t.Setenv
func TestLogDir(t *testing.T) {
	t.Setenv(config.LogEnv, "/var/log/bridge")
	assert.Equal(t, "/var/log/bridge", LogDir())

	t.Setenv(config.LogEnv, "")
	assert.Equal(t, filepath.Join(os.TempDir(), config.AppName), LogDir())
}
