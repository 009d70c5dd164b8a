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

package config

import "time"

var AppVersion = "DEVELOPMENT"

const (
	AppName  = "zaparoo-bridge"
	LogFile  = "bridge.log"
	CfgFile  = "config.toml"
	CfgEnv   = "BRIDGE_CFG"
	LogEnv   = "BRIDGE_LOG_DIR"
	StatusOK = "Bridge service connected to event bus"

	// StatusShutdownTimeout bounds how long the status server waits for
	// in-flight requests on shutdown.
	StatusShutdownTimeout = 5 * time.Second
)

// Environment overrides applied on top of the config file.
const (
	EnvDeviceHost   = "BRIDGE_DEVICE_HOST"
	EnvDevicePort   = "BRIDGE_DEVICE_PORT"
	EnvBusURL       = "BRIDGE_BUS_URL"
	EnvBusTransport = "BRIDGE_BUS_TRANSPORT"
	EnvStorePath    = "BRIDGE_STORE_PATH"
)

// Bus transports.
const (
	TransportSocketIO = "socketio"
	TransportMQTT     = "mqtt"
	TransportNATS     = "nats"
)
