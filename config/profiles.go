package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/richinex/llmrelay/fallback"
)

// ProfileFile is a YAML file of named provider settings:
//
//	default: work
//	profiles:
//	  work:
//	    provider: openai
//	    api_key: ${OPENAI_API_KEY}
//	    provider_keys:
//	      - provider: groq
//	        api_key: ${GROQ_API_KEY}
//	      - provider: ollama
//	    timeout: 2m
//
// API keys are expanded from the environment.
type ProfileFile struct {
	Default  string                       `yaml:"default"`
	Profiles map[string]fallback.Settings `yaml:"profiles"`
}

// LoadProfileFile reads and parses a profile file.
func LoadProfileFile(path string) (ProfileFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProfileFile{}, fmt.Errorf("read profile file: %w", err)
	}

	var file ProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return ProfileFile{}, fmt.Errorf("parse profile file %s: %w", path, err)
	}
	return file, nil
}

// Lookup returns the named profile, or the default one when name is empty.
func (f ProfileFile) Lookup(name string) (fallback.Settings, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" {
		return fallback.Settings{}, fmt.Errorf("no profile named and no default profile set")
	}

	s, ok := f.Profiles[name]
	if !ok {
		return fallback.Settings{}, fmt.Errorf("unknown profile: %q", name)
	}

	s.PrimaryAPIKey = os.ExpandEnv(s.PrimaryAPIKey)
	creds := make([]fallback.Credential, len(s.Additional))
	for i, c := range s.Additional {
		creds[i] = fallback.Credential{Provider: c.Provider, APIKey: os.ExpandEnv(c.APIKey)}
	}
	s.Additional = creds
	return s, nil
}

// Names returns the profile names in sorted order.
func (f ProfileFile) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
