// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MeetBundle Contributors

package module

// RegistryConsistent reports whether both registry maps describe the same
// set of instances.
func (m *Manager) RegistryConsistent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.modules) != len(m.loaders) {
		return false
	}
	for _, inst := range m.modules {
		if _, ok := m.loaders[inst]; !ok {
			return false
		}
	}
	return true
}

// RegistrySize returns the number of entries in each registry map.
func (m *Manager) RegistrySize() (modules, loaders int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.modules), len(m.loaders)
}
