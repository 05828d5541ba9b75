// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package host

import (
	"log/slog"
	"slices"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// Components is the registry modules use to announce that a named
// component is up. It is safe for concurrent use.
type Components struct {
	available cmap.ConcurrentMap[string, time.Time]
	logger    *slog.Logger
}

var _ module.Components = (*Components)(nil)

// NewComponents creates an empty registry.
func NewComponents() *Components {
	return &Components{
		available: cmap.New[time.Time](),
		logger:    slog.Default(),
	}
}

// Announce marks name as available.
func (c *Components) Announce(name string) {
	c.available.Set(name, time.Now())
	c.logger.Info("component available", "name", name)
}

// Withdraw marks name as unavailable.
func (c *Components) Withdraw(name string) {
	c.available.Remove(name)
	c.logger.Info("component withdrawn", "name", name)
}

// Available reports whether name is announced.
func (c *Components) Available(name string) bool {
	return c.available.Has(name)
}

// Names returns the announced components in sorted order.
func (c *Components) Names() []string {
	names := c.available.Keys()
	slices.Sort(names)
	return names
}
