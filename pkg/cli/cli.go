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

package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ZaparooProject/zaparoo-bridge/internal/telemetry"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/config"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers"
	"github.com/rs/zerolog/log"
)

var ErrInvalidDevice = errors.New("invalid device address")

var serialPorts = helpers.SerialPorts

type Flags struct {
	Config    *string
	Device    *string
	Bus       *string
	Daemon    *bool
	Version   *bool
	ListPorts *bool
}

// SetupFlags defines the bridge CLI flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Config: fs.String(
			"config",
			"",
			"path to config file (default: "+config.CfgFile+" in the user config dir)",
		),
		Device: fs.String(
			"device",
			"",
			"device address as host:port, or a serial port path",
		),
		Bus: fs.String(
			"bus",
			"",
			"event bus URL",
		),
		Daemon: fs.Bool(
			"daemon",
			false,
			"run in foreground and also log to stderr",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		ListPorts: fs.Bool(
			"list-ports",
			false,
			"list serial ports a device may be attached to and exit",
		),
	}
}

// Pre parses args and handles flags that exit immediately. It reports
// whether the caller should exit.
func (f *Flags) Pre(fs *flag.FlagSet, args []string, out io.Writer) (bool, error) {
	if err := fs.Parse(args); err != nil {
		return true, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *f.Version {
		_, _ = fmt.Fprintf(out, "Zaparoo Bridge v%s\n", config.AppVersion)
		return true, nil
	}

	if *f.ListPorts {
		ports, err := serialPorts()
		if err != nil {
			return true, err
		}
		if len(ports) == 0 {
			_, _ = fmt.Fprintln(out, "no serial ports found")
		}
		for _, p := range ports {
			_, _ = fmt.Fprintln(out, p)
		}
		return true, nil
	}

	return false, nil
}

// Post applies the -device and -bus overrides to cfg. Overrides are not
// saved to the config file.
func (f *Flags) Post(cfg *config.Instance) error {
	if *f.Device != "" {
		if err := ApplyDevice(cfg, *f.Device); err != nil {
			return err
		}
	}
	if *f.Bus != "" {
		cfg.SetBusURL(*f.Bus)
		log.Info().Msgf("bus url overridden: %s", *f.Bus)
	}
	return nil
}

// ApplyDevice sets the device from a host:port address. Anything that is
// not a host:port pair is taken as a serial port path.
func ApplyDevice(cfg *config.Instance, value string) error {
	host, portStr, err := net.SplitHostPort(value)
	if err != nil {
		cfg.SetDeviceSerialPort(value)
		log.Info().Msgf("device overridden: serial port %s", value)
		return nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 || host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidDevice, value)
	}

	cfg.SetDeviceSerialPort("")
	cfg.SetDeviceAddress(host, port)
	log.Info().Msgf("device overridden: %s", cfg.DeviceAddress())
	return nil
}

// ConfigDir returns the default directory holding the config file.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, config.AppName)
}

// Setup loads the config, then initializes logging and error reporting.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	f *Flags,
	defaultConfig config.Values,
	writers []io.Writer,
) (*config.Instance, error) {
	var cfg *config.Instance
	var err error
	if *f.Config != "" {
		cfg, err = config.NewConfigAt(*f.Config, defaultConfig)
	} else {
		cfg, err = config.NewConfig(ConfigDir(), defaultConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	err = helpers.InitLogging(helpers.LogDir(), cfg.DebugLogging(), writers)
	if err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	log.Info().Msgf("zaparoo bridge v%s, config: %s", config.AppVersion, cfg.Path())

	// opt-in, failure is not fatal
	if err := telemetry.Init(cfg.SentryDSN(), cfg.BusTransport()); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}
