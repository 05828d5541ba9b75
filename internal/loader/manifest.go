// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// ManifestName is the path of the optional manifest inside an archive.
const ManifestName = "module.yaml"

// Manifest describes the modules an archive declares.
type Manifest struct {
	// Requires is a semver constraint on the host version.
	Requires string `yaml:"requires,omitempty"`
	// Modules lists the archive's module declarations.
	Modules []Declared `yaml:"modules,omitempty"`
}

// Declared is one module declaration in a manifest.
type Declared struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Entry   string `yaml:"entry"`
	Version string `yaml:"version"`
}

// namePattern validates logical module names: dot-separated segments, each
// starting with a letter.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)*$`)

// ParseManifest parses and validates a module.yaml document.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Requires != "" {
		if _, err := semver.NewConstraint(m.Requires); err != nil {
			return fmt.Errorf("requires %q is not a valid version constraint: %w", m.Requires, err)
		}
	}

	seen := make(map[string]struct{}, len(m.Modules))
	for i, d := range m.Modules {
		if !namePattern.MatchString(d.Name) {
			return fmt.Errorf("modules[%d]: name %q must be dot-separated segments starting with a letter", i, d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("modules[%d]: duplicate module %q", i, d.Name)
		}
		seen[d.Name] = struct{}{}

		if d.Kind == "" {
			return fmt.Errorf("modules[%d]: kind is required", i)
		}
		if d.Entry == "" {
			return fmt.Errorf("modules[%d]: entry is required", i)
		}
		if d.Version != "" {
			if _, err := semver.NewVersion(d.Version); err != nil {
				return fmt.Errorf("modules[%d]: version %q: %w", i, d.Version, err)
			}
		}
	}
	return nil
}

// Compatible reports whether the host version satisfies Requires. An empty
// constraint or a nil host version is always compatible.
func (m *Manifest) Compatible(host *semver.Version) error {
	if m.Requires == "" || host == nil {
		return nil
	}
	c, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return fmt.Errorf("requires %q: %w", m.Requires, err)
	}
	if ok, reasons := c.Validate(host); !ok {
		return fmt.Errorf("host version %s does not satisfy %q: %w", host, m.Requires, errors.Join(reasons...))
	}
	return nil
}

// readManifest materializes the archive's manifest. Archives without one
// yield a nil manifest and no error.
func readManifest(archive fs.FS, location string) (*Manifest, error) {
	data, err := fs.ReadFile(archive, ManifestName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.Code(CodeManifestInvalid).In("loader").With("path", location).Wrap(err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, oops.Code(CodeManifestInvalid).In("loader").With("path", location).Wrap(err)
	}
	return m, nil
}
