package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/modhub/pkg/fsutil"
	"github.com/platinummonkey/modhub/pkg/sources"
)

// StoreFileName is the name of the YAML configuration store inside the config dir
const StoreFileName = "modhub.yaml"

// Settings holds global pipeline settings persisted in the store
type Settings struct {
	MaxSourceAgeHours int `yaml:"max_source_age_hours"`
	SyncConcurrency   int `yaml:"sync_concurrency"`
	LoadConcurrency   int `yaml:"load_concurrency"`
}

// DefaultSettings returns the settings used when the store does not set them
func DefaultSettings() Settings {
	return Settings{
		MaxSourceAgeHours: 24,
		SyncConcurrency:   4,
		LoadConcurrency:   1,
	}
}

// MaxSourceAge returns MaxSourceAgeHours as a duration
func (s Settings) MaxSourceAge() time.Duration {
	return time.Duration(s.MaxSourceAgeHours) * time.Hour
}

// State is the document persisted by Store
type State struct {
	Sources  []*sources.Source `yaml:"sources"`
	Settings Settings          `yaml:"settings"`
	Enabled  []string          `yaml:"enabled"`
	// PendingInvalidations lists source keys whose cache is dropped on the next refresh
	PendingInvalidations []string `yaml:"pending_invalidations,omitempty"`
}

// Source returns the source with the given key, or nil
func (s *State) Source(key string) *sources.Source {
	for _, src := range s.Sources {
		if src.Key() == key {
			return src
		}
	}
	return nil
}

// IsEnabled reports whether a record id is in the enabled set
func (s *State) IsEnabled(id string) bool {
	for _, e := range s.Enabled {
		if e == id {
			return true
		}
	}
	return false
}

// Store persists source descriptors, settings and the enabled record set as YAML
type Store struct {
	Path string
}

// NewStore creates a store backed by the file at path
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// LockFile returns the path to the lock file
func (s *Store) LockFile() string {
	return filepath.Join(filepath.Dir(s.Path), ".modhub.lock")
}

// Load reads the store. A missing or empty file yields default state.
func (s *Store) Load() (*State, error) {
	state := &State{Settings: DefaultSettings()}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to read config store: %w", err)
	}
	if len(data) == 0 {
		return state, nil
	}

	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse config store %s: %w", s.Path, err)
	}

	defaults := DefaultSettings()
	if state.Settings.MaxSourceAgeHours <= 0 {
		state.Settings.MaxSourceAgeHours = defaults.MaxSourceAgeHours
	}
	if state.Settings.SyncConcurrency <= 0 {
		state.Settings.SyncConcurrency = defaults.SyncConcurrency
	}
	if state.Settings.LoadConcurrency <= 0 {
		state.Settings.LoadConcurrency = defaults.LoadConcurrency
	}
	for _, src := range state.Sources {
		src.Normalize()
	}

	return state, nil
}

// Save writes the store atomically under the store lock
func (s *Store) Save(state *State) error {
	return fsutil.WithLock(s.LockFile(), func() error {
		return s.save(state)
	})
}

func (s *Store) save(state *State) error {
	sort.Strings(state.Enabled)
	state.Enabled = dedupe(state.Enabled)
	state.PendingInvalidations = dedupe(state.PendingInvalidations)

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal config store: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.Path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config store: %w", err)
	}
	return nil
}

// Update loads, mutates and saves the store while holding the lock
func (s *Store) Update(fn func(*State) error) error {
	return fsutil.WithLock(s.LockFile(), func() error {
		state, err := s.Load()
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		return s.save(state)
	})
}

// UpsertSource inserts a source or replaces the one with the same key
func (s *Store) UpsertSource(src *sources.Source) error {
	src.Normalize()
	if err := src.Validate(); err != nil {
		return err
	}

	return s.Update(func(state *State) error {
		for i, existing := range state.Sources {
			if existing.Key() == src.Key() {
				state.Sources[i] = src
				return nil
			}
		}
		state.Sources = append(state.Sources, src)
		return nil
	})
}

// RemoveSource removes the source with the given key
func (s *Store) RemoveSource(key string) (*sources.Source, error) {
	var removed *sources.Source
	err := s.Update(func(state *State) error {
		remaining := make([]*sources.Source, 0, len(state.Sources))
		for _, src := range state.Sources {
			if src.Key() == key {
				removed = src
				continue
			}
			remaining = append(remaining, src)
		}
		if removed == nil {
			return fmt.Errorf("source %q not configured", key)
		}
		state.Sources = remaining
		return nil
	})
	return removed, err
}

// SetSourceEnabled toggles the enabled flag of a source
func (s *Store) SetSourceEnabled(key string, enabled bool) error {
	return s.Update(func(state *State) error {
		src := state.Source(key)
		if src == nil {
			return fmt.Errorf("source %q not configured", key)
		}
		src.Enabled = enabled
		return nil
	})
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return items
	}
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
