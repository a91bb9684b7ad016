package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the screens a host serves, keyed by id.
type Registry struct {
	mu      sync.RWMutex
	screens map[string]*Screen
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{screens: make(map[string]*Screen)}
}

// Register adds a screen. Registering an id twice is an error.
func (r *Registry) Register(s *Screen) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.screens[s.ID]; exists {
		return fmt.Errorf("schema: screen already registered: %s", s.ID)
	}
	r.screens[s.ID] = s
	return nil
}

// MustRegister is Register that panics on a duplicate id.
func (r *Registry) MustRegister(s *Screen) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// LoadDir parses dir and registers every screen in it. Nothing is registered
// if any file fails.
func (r *Registry) LoadDir(dir string) (int, error) {
	screens, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range screens {
		if _, exists := r.screens[s.ID]; exists {
			return 0, fmt.Errorf("schema: screen already registered: %s", s.ID)
		}
	}
	for _, s := range screens {
		r.screens[s.ID] = s
	}
	return len(screens), nil
}

// Get returns a screen by id.
func (r *Registry) Get(id string) (*Screen, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.screens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// All returns every screen, sorted by group then id.
func (r *Registry) All() []*Screen {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Screen, 0, len(r.screens))
	for _, s := range r.screens {
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// ByGroup returns the screens of one group, sorted by id.
func (r *Registry) ByGroup(group string) []*Screen {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Screen
	for _, s := range r.screens {
		if s.Group == group {
			result = append(result, s)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Groups returns all group names, sorted.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, s := range r.screens {
		seen[s.Group] = true
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Len returns the number of registered screens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.screens)
}

// Clear removes all screens.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens = make(map[string]*Screen)
}

// Reload parses dir and replaces every registered screen with its contents.
// On error the registry is left unchanged.
func (r *Registry) Reload(dir string) (int, error) {
	screens, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}

	next := make(map[string]*Screen, len(screens))
	for _, s := range screens {
		next[s.ID] = s
	}

	r.mu.Lock()
	r.screens = next
	r.mu.Unlock()
	return len(screens), nil
}
