// Package plugin implements the process-wide plugin registry. The server
// itself is registered as a plugin; further plugins hook into startup the
// same way.
package plugin

import (
	"fmt"
	"sync"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/logger"
)

// Descriptor identifies a plugin.
type Descriptor struct {
	Name        string
	Version     string
	Description string
	Authors     []string
	Website     string
	SPDXLicense string
}

// Plugin is a unit of startup behaviour registered with the Manager.
type Plugin interface {
	Descriptor() Descriptor
	Initialize(m *Manager) error
}

// Manager registers plugins and initializes them in registration order.
type Manager struct {
	mu      sync.Mutex
	plugins map[string]Plugin
	order   []string
}

func NewManager() *Manager {
	return &Manager{plugins: make(map[string]Plugin)}
}

// Register adds p under its descriptor name. Duplicate names are an error.
func (m *Manager) Register(p Plugin) error {
	name := p.Descriptor().Name
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("plugin %q is already registered", name)
	}
	m.plugins[name] = p
	m.order = append(m.order, name)
	return nil
}

// Get returns the plugin registered under name.
func (m *Manager) Get(name string) (Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[name]
	return p, ok
}

// InitializeAll initializes every plugin in registration order, stopping
// at the first failure.
func (m *Manager) InitializeAll() error {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, name := range order {
		p, _ := m.Get(name)
		d := p.Descriptor()
		logger.Info("Initializing plugin", "name", d.Name, "version", d.Version)
		if err := p.Initialize(m); err != nil {
			return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
		}
	}
	return nil
}
