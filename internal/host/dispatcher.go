// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

// Package host adapts the module lifecycle to the embedding application: it
// owns the endpoint dispatch table modules register into and drives module
// loading from the host plugin's own lifecycle events.
package host

import (
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/knadh/koanf/v2"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/meetbundle/meetbundle/pkg/module"
)

// route is one registered endpoint.
type route struct {
	owner   module.Owner
	handler http.Handler
}

// Route describes a registered endpoint.
type Route struct {
	Path  string
	Owner module.Owner
}

// Dispatcher is the host facade modules register endpoints with. It serves
// registered endpoints over HTTP.
//
// Paths ending in "/" match every request below them; other paths match
// exactly. The most specific registration wins.
type Dispatcher struct {
	unit       string
	baseDir    string
	grants     *Grants
	components *Components
	properties func() module.Properties
	logger     *slog.Logger

	routes cmap.ConcurrentMap[string, route]
}

// Compile-time interface checks.
var (
	_ module.Host  = (*Dispatcher)(nil)
	_ http.Handler = (*Dispatcher)(nil)
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithGrants restricts registrations to the given grants.
func WithGrants(g *Grants) DispatcherOption {
	return func(d *Dispatcher) {
		d.grants = g
	}
}

// WithProperties sets the supplier of host properties. The supplier is
// consulted on every call so reloaded configuration is visible at once.
func WithProperties(fn func() module.Properties) DispatcherOption {
	return func(d *Dispatcher) {
		d.properties = fn
	}
}

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher for the named deployment unit.
func NewDispatcher(unit, baseDir string, opts ...DispatcherOption) *Dispatcher {
	empty := koanf.New(".")
	d := &Dispatcher{
		unit:       unit,
		baseDir:    baseDir,
		grants:     NewGrants(),
		components: NewComponents(),
		properties: func() module.Properties { return empty },
		logger:     slog.Default(),
		routes:     cmap.New[route](),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatcher", "unit", unit)
	d.components.logger = d.logger
	return d
}

// RegisterEndpoint implements module.Host.
func (d *Dispatcher) RegisterEndpoint(owner module.Owner, p string, h http.Handler) error {
	if !validPath(p) {
		return errEndpointInvalid(p)
	}
	if h == nil {
		return errEndpointNilHandler(p, owner)
	}
	if !d.grants.Allowed(owner.Module, p) {
		return ErrEndpointDenied(p, owner)
	}

	var (
		holder module.Owner
		taken  bool
	)
	d.routes.Upsert(p, route{owner: owner, handler: h}, func(exists bool, current, next route) route {
		if exists {
			holder, taken = current.owner, true
			return current
		}
		return next
	})
	if taken {
		return ErrEndpointConflict(p, owner, holder)
	}

	d.logger.Info("endpoint registered", "path", d.Mount(p), "module", owner.Module, "cycle", owner.Cycle.String())
	return nil
}

// UnregisterEndpoint implements module.Host.
func (d *Dispatcher) UnregisterEndpoint(owner module.Owner, p string) error {
	var (
		holder  module.Owner
		foreign bool
	)
	removed := d.routes.RemoveCb(p, func(_ string, current route, exists bool) bool {
		if !exists {
			return false
		}
		if current.owner != owner {
			holder, foreign = current.owner, true
			return false
		}
		return true
	})
	if foreign {
		return ErrEndpointNotOwned(p, owner, holder)
	}
	if removed {
		d.logger.Info("endpoint unregistered", "path", d.Mount(p), "module", owner.Module)
	}
	return nil
}

// DispatchConfig implements module.Host.
func (d *Dispatcher) DispatchConfig() module.DispatchConfig {
	return module.DispatchConfig{
		Unit:       d.unit,
		BaseDir:    d.baseDir,
		Properties: d.properties(),
	}
}

// BaseDir implements module.Host.
func (d *Dispatcher) BaseDir() string {
	return d.baseDir
}

// Properties implements module.Host.
func (d *Dispatcher) Properties() module.Properties {
	return d.properties()
}

// Components implements module.Host.
func (d *Dispatcher) Components() module.Components {
	return d.components
}

// Grants returns the dispatcher's grant table.
func (d *Dispatcher) Grants() *Grants {
	return d.grants
}

// Mount returns the externally visible path of an endpoint.
func (d *Dispatcher) Mount(p string) string {
	return "/" + d.unit + p
}

// Routes returns every registered endpoint sorted by path.
func (d *Dispatcher) Routes() []Route {
	items := d.routes.Items()
	out := make([]Route, 0, len(items))
	for p, r := range items {
		out = append(out, Route{Path: p, Owner: r.owner})
	}
	slices.SortFunc(out, func(a, b Route) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// ServeHTTP dispatches a request whose path is relative to the unit mount
// (see Handler).
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := d.match(r.URL.Path)
	if !ok {
		recordRequest(unmatched, http.StatusNotFound)
		http.NotFound(w, r)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("endpoint handler panicked",
				"module", rt.owner.Module, "path", r.URL.Path, "panic", fmt.Sprint(p))
			if !rec.wrote {
				http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
			rec.status = http.StatusInternalServerError
		}
		recordRequest(rt.owner.Module, rec.status)
	}()
	rt.handler.ServeHTTP(rec, r)
}

// Handler returns an http.Handler serving the dispatcher under /<unit>.
func (d *Dispatcher) Handler() http.Handler {
	return http.StripPrefix("/"+d.unit, d)
}

// match finds the exact route for p, then walks up the prefix
// registrations: /a/b/c, /a/b/, /a/, /.
func (d *Dispatcher) match(p string) (route, bool) {
	if p == "" {
		p = "/"
	}
	if rt, ok := d.routes.Get(p); ok {
		return rt, true
	}
	dir := strings.TrimSuffix(p, "/")
	for {
		i := strings.LastIndex(dir, "/")
		if i < 0 {
			return route{}, false
		}
		dir = dir[:i]
		if rt, ok := d.routes.Get(dir + "/"); ok {
			return rt, true
		}
	}
}

// validPath accepts absolute, clean paths. A single trailing slash marks a
// prefix registration.
func validPath(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	if p == "/" {
		return true
	}
	trimmed := strings.TrimSuffix(p, "/")
	return path.Clean(trimmed) == trimmed
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

// WriteHeader records the status only once the underlying writer accepted
// it; an invalid code panics before anything reaches the client.
func (s *statusRecorder) WriteHeader(code int) {
	s.ResponseWriter.WriteHeader(code)
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.wrote = true
	return n, err //nolint:wrapcheck // passthrough
}
