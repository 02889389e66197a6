// Package storage persists named provider profiles.
//
// A profile is a saved fallback.Settings value: the preferred provider, its
// key and model, and the ordered list of additional credentials. The CLI
// resolves a profile by name before building the provider list.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/llmrelay/fallback"
)

// ErrProfileNotFound is returned when no profile has the requested name.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is a named set of provider settings.
type Profile struct {
	// ID is a unique identifier assigned when the profile is first saved.
	ID string `json:"id"`
	// Name is the caller-chosen profile name, unique within a store.
	Name string `json:"name"`
	// Settings are the provider preferences the profile resolves to.
	Settings fallback.Settings `json:"settings"`
	// CreatedAt is the Unix timestamp when first saved.
	CreatedAt int64 `json:"created_at"`
	// UpdatedAt is the Unix timestamp of the last save.
	UpdatedAt int64 `json:"updated_at"`
}

// ProfileStore saves and resolves profiles by name.
type ProfileStore interface {
	// SaveProfile creates or replaces the named profile. The ID and
	// creation time of an existing profile are kept.
	SaveProfile(ctx context.Context, name string, settings fallback.Settings) (Profile, error)

	// LoadProfile returns the named profile or ErrProfileNotFound.
	LoadProfile(ctx context.Context, name string) (Profile, error)

	// ListProfiles returns every profile ordered by name.
	ListProfiles(ctx context.Context) ([]Profile, error)

	// DeleteProfile removes the named profile. Deleting a missing profile
	// returns ErrProfileNotFound.
	DeleteProfile(ctx context.Context, name string) error

	Close() error
}

func normaliseName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("profile name must not be empty")
	}
	return name, nil
}

// MemoryStore is an in-process ProfileStore.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

// SaveProfile creates or replaces the named profile.
func (m *MemoryStore) SaveProfile(_ context.Context, name string, settings fallback.Settings) (Profile, error) {
	name, err := normaliseName(name)
	if err != nil {
		return Profile{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	p, ok := m.profiles[name]
	if !ok {
		p = Profile{ID: uuid.New().String(), Name: name, CreatedAt: now}
	}
	p.Settings = cloneSettings(settings)
	p.UpdatedAt = now
	m.profiles[name] = p
	return p, nil
}

// LoadProfile returns the named profile.
func (m *MemoryStore) LoadProfile(_ context.Context, name string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[strings.TrimSpace(name)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	p.Settings = cloneSettings(p.Settings)
	return p, nil
}

// ListProfiles returns every profile ordered by name.
func (m *MemoryStore) ListProfiles(_ context.Context) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profiles := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		p.Settings = cloneSettings(p.Settings)
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// DeleteProfile removes the named profile.
func (m *MemoryStore) DeleteProfile(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = strings.TrimSpace(name)
	if _, ok := m.profiles[name]; !ok {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	delete(m.profiles, name)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// cloneSettings copies the credential slice so callers cannot mutate stored state.
func cloneSettings(s fallback.Settings) fallback.Settings {
	if s.Additional != nil {
		s.Additional = append([]fallback.Credential(nil), s.Additional...)
	}
	return s
}

var _ ProfileStore = (*MemoryStore)(nil)
