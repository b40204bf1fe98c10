package personas

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store holds the loaded persona profiles. Reload swaps the whole set
// atomically so readers never observe a half-loaded directory.
type Store struct {
	logger *zap.Logger

	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewStore returns an empty persona store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger, profiles: make(map[string]*Profile)}
}

// LoadDirectory reads every YAML file under root as one persona profile.
// A file that fails to parse is skipped with a warning; one bad profile
// must not take down the rest of the set.
func (s *Store) LoadDirectory(root string) error {
	loaded := make(map[string]*Profile)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}

		profile, err := loadProfile(path)
		if err != nil {
			s.logger.Warn("Skipping persona profile",
				zap.String("path", path),
				zap.Error(err),
			)
			return nil
		}
		if _, ok := loaded[profile.ID]; ok {
			s.logger.Warn("Duplicate persona id, keeping first",
				zap.String("persona_id", profile.ID),
				zap.String("path", path),
			)
			return nil
		}
		loaded[profile.ID] = profile
		return nil
	})
	if err != nil {
		return fmt.Errorf("load personas from %s: %w", root, err)
	}

	s.mu.Lock()
	s.profiles = loaded
	s.mu.Unlock()

	s.logger.Info("Personas loaded", zap.Int("count", len(loaded)))
	return nil
}

// Get returns one profile by id.
func (s *Store) Get(id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("persona %s: %w", id, ErrPersonaNotFound)
	}
	return p, nil
}

// List returns profiles passing the filter, sorted by priority descending
// then id.
func (s *Store) List(filter *Filter) []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len reports how many profiles are loaded.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Profile
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("profile missing id")
	}
	if p.SystemPrompt == "" {
		return nil, fmt.Errorf("profile %s missing system_prompt", p.ID)
	}
	return &p, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
