// Package profile wires a hardware Profile's persistence onto the generic
// config.Store contract: config/file.Store does the actual file I/O and
// validation hook, config/env.Environment supplies optional environment
// variable overrides, and Manager layers hot-reload and profile-typed
// convenience accessors on top. Manager lives in its own package, separate
// from config, because config/file imports config for the Store contract
// it implements — a Manager wired onto config/file cannot live in
// package config itself without an import cycle.
package profile

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/butter-bot-machines/timermux/pkg/config"
	"github.com/butter-bot-machines/timermux/pkg/config/env"
	"github.com/butter-bot-machines/timermux/pkg/config/file"
	"github.com/fsnotify/fsnotify"
)

// Manager owns a profile loaded from a YAML file on disk and optionally
// watches it for changes, publishing each successfully reloaded Profile on
// Changes(). This is application-level convenience layered on top of the
// scheduler core, never a substitute for Control.ChangeDelay.
type Manager struct {
	mu      sync.RWMutex
	store   *file.Store
	env     config.Environment
	profile *config.Profile
	path    string

	watcher *fsnotify.Watcher
	changes chan *config.Profile
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ config.Store = (*Manager)(nil)

// NewManager creates a manager for the profile at <configDir>/profile.yaml,
// backed by a config/file.Store for persistence and validation.
func NewManager(configDir string) *Manager {
	path := filepath.Join(configDir, "profile.yaml")
	m := &Manager{
		profile: &config.Profile{},
		path:    path,
		env:     env.New(),
		changes: make(chan *config.Profile, 1),
	}
	m.store = file.NewStore(path, func(data map[string]interface{}) error {
		p := &config.Profile{}
		if err := p.FromMap(data); err != nil {
			return err
		}
		return p.Validate()
	})
	return m
}

// Load reads and parses the profile from disk through the backing store,
// then applies any TIMERMUX_* environment overrides on top.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *Manager) loadLocked() error {
	if err := m.store.Load(); err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	data, err := m.store.GetAll()
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}

	p := &config.Profile{}
	if err := p.FromMap(data); err != nil {
		return fmt.Errorf("failed to parse profile: %w", err)
	}
	m.applyEnvOverrides(p)
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	m.profile = p
	return nil
}

// applyEnvOverrides lets a deployment override the on-disk profile's
// hardware parameters without editing the file — the twelve-factor-style
// escape hatch config.Environment exists for. Only set, positive values
// override; an absent or invalid variable leaves the on-disk value alone.
func (m *Manager) applyEnvOverrides(p *config.Profile) {
	if v := m.env.GetInt("TIMERMUX_INPUT_FREQUENCY"); v > 0 {
		p.InputFrequency = uint32(v)
	}
	if v := m.env.GetInt("TIMERMUX_CLOCK_DIVISION"); v > 0 {
		p.ClockDivision = uint32(v)
	}
	if v := m.env.GetInt("TIMERMUX_COUNTER_BITS"); v > 0 {
		p.CounterBits = uint8(v)
	}
}

// Profile returns the currently loaded profile.
func (m *Manager) Profile() *config.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// SetProfile replaces the current profile, validating and persisting it
// through the backing store.
func (m *Manager) SetProfile(p *config.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetAll(p.AsMap()); err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	m.profile = p
	return nil
}

// Save persists the currently loaded profile through the backing store.
func (m *Manager) Save() error {
	m.mu.RLock()
	data := m.profile.AsMap()
	m.mu.RUnlock()

	if err := m.store.SetAll(data); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Watch starts watching the profile's directory for changes with fsnotify.
// Each write that parses and validates successfully is republished on
// Changes(); a write that fails to load or validate is dropped without
// being reported, leaving the last good profile in place.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	m.watcher = watcher
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.mu.Lock()
			err := m.loadLocked()
			profile := m.profile
			m.mu.Unlock()
			if err != nil {
				continue
			}
			select {
			case m.changes <- profile:
			default:
				// a reload is already pending delivery; the newer profile
				// wins, the stale one is dropped.
				select {
				case <-m.changes:
				default:
				}
				m.changes <- profile
			}
		case <-m.watcher.Errors:
			continue
		}
	}
}

// Changes returns the channel that receives a freshly reloaded, validated
// Profile whenever the watched file changes. Only meaningful after Watch.
func (m *Manager) Changes() <-chan *config.Profile {
	return m.changes
}

// Close stops the watcher, if running. Safe to call even if Watch was
// never called.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	close(m.done)
	err := m.watcher.Close()
	m.wg.Wait()
	return err
}

// Validate validates the current profile.
func (m *Manager) Validate() error {
	return m.Profile().Validate()
}

// Reset resets the profile to its zero value, in memory only.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = &config.Profile{}
	return nil
}

// Get gets a configuration value by key, through the backing store.
func (m *Manager) Get(key string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Get(key)
}

// Set sets a configuration value by key, through the backing store, then
// refreshes the cached Profile from the store's resulting state.
func (m *Manager) Set(key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(key, value); err != nil {
		return err
	}
	return m.refreshProfileLocked()
}

// Delete deletes a configuration value by key, through the backing store.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(key); err != nil {
		return err
	}
	return m.refreshProfileLocked()
}

// GetAll returns the profile as a generic map, read through the backing
// store.
func (m *Manager) GetAll() (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.GetAll()
}

// SetAll replaces the profile's fields from a generic map, through the
// backing store.
func (m *Manager) SetAll(values map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetAll(values); err != nil {
		return err
	}
	return m.refreshProfileLocked()
}

func (m *Manager) refreshProfileLocked() error {
	data, err := m.store.GetAll()
	if err != nil {
		return err
	}
	p := &config.Profile{}
	if err := p.FromMap(data); err != nil {
		return err
	}
	m.profile = p
	return nil
}
