// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package module

import (
	"io/fs"
	"slices"
	"sync"

	"github.com/meetbundle/meetbundle/internal/loader"
	modulepkg "github.com/meetbundle/meetbundle/pkg/module"
)

// HandlerSource supplies shared handler factories by identifier.
type HandlerSource interface {
	Handler(id string) (modulepkg.HandlerFactory, bool)
}

// Catalog is the shared parent every module loader delegates to. It holds
// the compiled-in module factories, the runtimes for archive-declared
// modules, the shared handler factories and the host's shared resources.
type Catalog struct {
	resources fs.FS

	mu        sync.RWMutex
	factories map[string]modulepkg.Factory
	runtimes  map[string]modulepkg.Runtime
	handlers  map[string]modulepkg.HandlerFactory
}

// Compile-time interface checks.
var (
	_ loader.Parent = (*Catalog)(nil)
	_ HandlerSource = (*Catalog)(nil)
)

// NewCatalog creates an empty catalog. resources may be nil.
func NewCatalog(resources fs.FS) *Catalog {
	return &Catalog{
		resources: resources,
		factories: make(map[string]modulepkg.Factory),
		runtimes:  make(map[string]modulepkg.Runtime),
		handlers:  make(map[string]modulepkg.HandlerFactory),
	}
}

// RegisterFactory adds a compiled-in module under its logical name.
func (c *Catalog) RegisterFactory(name string, f modulepkg.Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factories[name]; ok {
		return errDuplicate("module", name)
	}
	c.factories[name] = f
	return nil
}

// RegisterRuntime adds the runtime for archive declarations of kind.
func (c *Catalog) RegisterRuntime(kind string, rt modulepkg.Runtime) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.runtimes[kind]; ok {
		return errDuplicate("runtime", kind)
	}
	c.runtimes[kind] = rt
	return nil
}

// RegisterHandler adds a shared handler factory.
func (c *Catalog) RegisterHandler(id string, f modulepkg.HandlerFactory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[id]; ok {
		return errDuplicate("handler", id)
	}
	c.handlers[id] = f
	return nil
}

// Factory implements loader.Parent.
func (c *Catalog) Factory(name string) (modulepkg.Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Runtime implements loader.Parent.
func (c *Catalog) Runtime(kind string) (modulepkg.Runtime, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rt, ok := c.runtimes[kind]
	return rt, ok
}

// Handler implements HandlerSource.
func (c *Catalog) Handler(id string) (modulepkg.HandlerFactory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.handlers[id]
	return f, ok
}

// Open implements fs.FS over the shared resources.
func (c *Catalog) Open(name string) (fs.File, error) {
	if c.resources == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return c.resources.Open(name) //nolint:wrapcheck // fs.FS contract returns *fs.PathError
}

// Names returns the registered module names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Kinds returns the registered runtime kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.runtimes))
	for kind := range c.runtimes {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}
