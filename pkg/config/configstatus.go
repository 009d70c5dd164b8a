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

// Status configures the informational HTTP surface.
type Status struct {
	AllowedOrigins []string `toml:"allowed_origins,omitempty,multiline"`
	Port           int      `toml:"port" validate:"min=0,max=65535"`
	Enabled        bool     `toml:"enabled"`
}

func (c *Instance) StatusEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Status.Enabled
}

func (c *Instance) StatusPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Status.Port
}

func (c *Instance) StatusAllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	origins := make([]string, len(c.vals.Status.AllowedOrigins))
	copy(origins, c.vals.Status.AllowedOrigins)
	return origins
}
