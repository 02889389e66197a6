package fallback

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/llmrelay/llm"
)

// Credential is an additional provider the caller has a key for.
type Credential struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
}

// Settings are a caller's saved provider preferences.
type Settings struct {
	// Primary is the preferred provider name. Empty means openai.
	Primary       string       `yaml:"provider"`
	PrimaryAPIKey string       `yaml:"api_key"`
	Model         string       `yaml:"model"`
	BaseURL       string       `yaml:"base_url"`
	Additional    []Credential `yaml:"provider_keys"`

	// Timeout overrides the per-call timeout of every provider.
	Timeout time.Duration `yaml:"timeout"`
}

type credentialKey struct {
	kind llm.ProviderKind
	key  string
}

// BuildProviderList turns settings into the ordered list of providers to try.
// The primary comes first, then additional credentials in order. Providers
// that need a key are only included when one is set. Excluded kinds, unknown
// provider names and exact (kind, key) repeats are skipped.
func BuildProviderList(s Settings, exclude ...llm.ProviderKind) []llm.ProviderConfig {
	excluded := make(map[llm.ProviderKind]bool, len(exclude))
	for _, kind := range exclude {
		excluded[kind] = true
	}

	var configs []llm.ProviderConfig
	seen := make(map[credentialKey]bool)
	add := func(cfg llm.ProviderConfig) {
		k := credentialKey{cfg.Kind, cfg.APIKey}
		if seen[k] {
			return
		}
		seen[k] = true
		cfg.Timeout = s.Timeout
		configs = append(configs, cfg)
	}

	primaryName := s.Primary
	if strings.TrimSpace(primaryName) == "" {
		primaryName = llm.ProviderOpenAI.String()
	}
	if primary, err := llm.ParseProviderKind(primaryName); err != nil {
		zap.L().Warn("skipping unknown primary provider", zap.String("provider", primaryName))
	} else if !excluded[primary] {
		key := strings.TrimSpace(s.PrimaryAPIKey)
		if !primary.RequiresAPIKey() || key != "" {
			add(llm.ProviderConfig{
				Kind:    primary,
				APIKey:  key,
				Model:   s.Model,
				BaseURL: s.BaseURL,
			})
		}
	}

	for _, cred := range s.Additional {
		kind, err := llm.ParseProviderKind(cred.Provider)
		if err != nil {
			zap.L().Warn("skipping unknown provider", zap.String("provider", cred.Provider))
			continue
		}
		if excluded[kind] {
			continue
		}

		if !kind.RequiresAPIKey() {
			add(llm.ProviderConfig{Kind: kind, BaseURL: s.BaseURL})
			continue
		}
		if key := strings.TrimSpace(cred.APIKey); key != "" {
			add(llm.ProviderConfig{Kind: kind, APIKey: key})
		}
	}

	return configs
}
