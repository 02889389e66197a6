// Package config provides relay settings loaded from environment variables
// and YAML profile files.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider credential discovery (LLM_PROVIDER_KEYS and per-vendor *_API_KEY)

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/richinex/llmrelay/fallback"
	"github.com/richinex/llmrelay/llm"
	"github.com/richinex/llmrelay/retry"
)

// MaxAttemptsLimit bounds LLM_MAX_ATTEMPTS.
const MaxAttemptsLimit = 20

// Settings holds all relay configuration.
type Settings struct {
	Providers    fallback.Settings
	Retry        retry.Policy
	MaxProviders int
	Temperature  float64
}

// New creates settings from environment variables.
// Returns an error if the primary provider is unknown or a variable holds an
// invalid value.
func New() (Settings, error) {
	primary := os.Getenv("LLM_PROVIDER")
	if primary == "" {
		primary = llm.ProviderOpenAI.String()
	}
	primaryKind, err := llm.ParseProviderKind(primary)
	if err != nil {
		return Settings{}, err
	}

	maxProviders, err := getEnvInt("LLM_MAX_PROVIDERS", fallback.DefaultMaxProviders)
	if err != nil {
		return Settings{}, err
	}

	maxAttempts, err := getEnvInt("LLM_MAX_ATTEMPTS", retry.DefaultPolicy().MaxAttempts)
	if err != nil {
		return Settings{}, err
	}
	if maxAttempts < 1 || maxAttempts > MaxAttemptsLimit {
		return Settings{}, fmt.Errorf("LLM_MAX_ATTEMPTS must be between 1 and %d, got %d", MaxAttemptsLimit, maxAttempts)
	}

	baseDelay, err := getEnvDuration("LLM_BASE_DELAY", retry.DefaultPolicy().BaseDelay)
	if err != nil {
		return Settings{}, err
	}

	timeout, err := getEnvDuration("LLM_TIMEOUT", 0)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", llm.DefaultTemperature)
	if err != nil {
		return Settings{}, err
	}

	additional, err := ParseProviderKeys(os.Getenv("LLM_PROVIDER_KEYS"))
	if err != nil {
		return Settings{}, err
	}
	additional = append(additional, vendorCredentials(primaryKind)...)

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" && primaryKind.RequiresAPIKey() {
		apiKey = os.Getenv(primaryKind.EnvVar())
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = maxAttempts
	policy.BaseDelay = baseDelay

	return Settings{
		Providers: fallback.Settings{
			Primary:       primaryKind.String(),
			PrimaryAPIKey: apiKey,
			Model:         os.Getenv("LLM_MODEL"),
			BaseURL:       os.Getenv("LLM_BASE_URL"),
			Additional:    additional,
			Timeout:       timeout,
		},
		Retry:        policy,
		MaxProviders: maxProviders,
		Temperature:  temperature,
	}, nil
}

// MustNew creates settings from the environment.
// Panics if the environment is invalid.
// Use this only when configuration errors should be fatal.
func MustNew() Settings {
	settings, err := New()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding the existing environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ParseProviderKeys parses "kind=key,kind=key". Order is preserved.
func ParseProviderKeys(value string) ([]fallback.Credential, error) {
	var creds []fallback.Credential
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, key, _ := strings.Cut(pair, "=")
		kind, err := llm.ParseProviderKind(name)
		if err != nil {
			return nil, fmt.Errorf("invalid value for LLM_PROVIDER_KEYS: %w", err)
		}
		creds = append(creds, fallback.Credential{Provider: kind.String(), APIKey: strings.TrimSpace(key)})
	}
	return creds, nil
}

// vendorCredentials returns a credential for every provider other than
// primary whose *_API_KEY variable is set.
func vendorCredentials(primary llm.ProviderKind) []fallback.Credential {
	var creds []fallback.Credential
	for _, kind := range llm.AllProviderKinds {
		if kind == primary || !kind.RequiresAPIKey() {
			continue
		}
		if key := os.Getenv(kind.EnvVar()); key != "" {
			creds = append(creds, fallback.Credential{Provider: kind.String(), APIKey: key})
		}
	}
	return creds
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	kind, err := llm.ParseProviderKind(provider)
	if err != nil {
		return "", err
	}
	if !kind.RequiresAPIKey() {
		return "", nil
	}

	key := os.Getenv(kind.EnvVar())
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", kind.EnvVar())
	}
	return key, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(llm.AllProviderKinds))
	for _, kind := range llm.AllProviderKinds {
		result = append(result, kind.String())
	}
	return result
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
