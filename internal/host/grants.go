// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// compiledGrant holds a pattern and its compiled glob.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Grants restricts the endpoint paths a module may register.
//
// Pattern matching uses gobwas/glob with '/' as the segment separator:
//   - '*' matches a single segment: "/bridge/*" matches "/bridge/status"
//   - '**' matches any number of segments: "/bridge/**" matches "/bridge/a/b"
//
// Modules without grants are unrestricted. The zero value is ready to use.
type Grants struct {
	grants map[string][]compiledGrant
	mu     sync.RWMutex
}

// NewGrants creates an empty grant table.
func NewGrants() *Grants {
	return &Grants{grants: make(map[string][]compiledGrant)}
}

// Set replaces the grants of a module. No change is made when any pattern
// is invalid. An empty pattern list removes the module's restriction.
func (g *Grants) Set(module string, patterns []string) error {
	if module == "" {
		return errors.New("module name cannot be empty")
	}

	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return fmt.Errorf("grant %d: empty pattern", i)
		}
		gl, err := glob.Compile(pattern, '/')
		if err != nil {
			return fmt.Errorf("grant %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: gl}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.grants == nil {
		g.grants = make(map[string][]compiledGrant)
	}
	if len(compiled) == 0 {
		delete(g.grants, module)
		return nil
	}
	g.grants[module] = compiled
	return nil
}

// Restricted reports whether the module has grants.
func (g *Grants) Restricted(module string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.grants[module]
	return ok
}

// Patterns returns a copy of the module's grant patterns.
func (g *Grants) Patterns(module string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grants, ok := g.grants[module]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, gr := range grants {
		patterns[i] = gr.pattern
	}
	return patterns
}

// Allowed reports whether the module may register path.
func (g *Grants) Allowed(module, path string) bool {
	if path == "" {
		return false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	grants, ok := g.grants[module]
	if !ok {
		return true
	}
	for _, gr := range grants {
		if gr.glob.Match(path) {
			return true
		}
	}
	return false
}
