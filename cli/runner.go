// Command execution for CLI commands.
//
// Information Hiding:
// - Settings and profile resolution hidden
// - Orchestrator wiring (retry, metrics, logging) hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/richinex/llmrelay/config"
	"github.com/richinex/llmrelay/fallback"
	"github.com/richinex/llmrelay/llm"
	"github.com/richinex/llmrelay/metrics"
	"github.com/richinex/llmrelay/retry"
	"github.com/richinex/llmrelay/storage"
)

// DefaultDBPath is where saved profiles live unless --db says otherwise.
const DefaultDBPath = ".llmrelay/relay.db"

// MemoryDBPath as --db keeps profiles in memory for the life of the process.
const MemoryDBPath = ":memory:"

// Options holds CLI execution options shared by every command.
type Options struct {
	// Profile names saved provider settings. With ProfileFile set it is
	// looked up in that file, otherwise in Store or the SQLite store at DBPath.
	Profile     string
	ProfileFile string
	DBPath      string
	// Store, when set, replaces the store DBPath would open. It is not closed.
	Store storage.ProfileStore

	MaxProviders int
	Exclude      []string
	Verbose      bool

	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder
	Out      io.Writer
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		DBPath: DefaultDBPath,
		Logger: zap.NewNop(),
		Out:    os.Stdout,
	}
}

// NewLogger builds the process logger: human-readable at debug level when
// verbose, JSON at info level otherwise.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// GenerateOptions shapes a single generation request.
type GenerateOptions struct {
	System     string
	Structured bool
	// Temperature overrides LLM_TEMPERATURE when set.
	Temperature *float64
}

func (g GenerateOptions) request(prompt string, settings config.Settings) llm.GenerationRequest {
	req := llm.GenerationRequest{
		Prompt:        prompt,
		SystemMessage: g.System,
		Temperature:   settings.Temperature,
	}
	if g.Temperature != nil {
		req.Temperature = *g.Temperature
	}
	if g.Structured {
		req.Shape = llm.ShapeStructured
	}
	return req
}

// Generate runs one prompt through the fallback chain and prints the result.
func Generate(ctx context.Context, prompt string, gen GenerateOptions, opts Options) error {
	settings, err := resolveSettings(ctx, opts)
	if err != nil {
		return err
	}
	exclude, err := parseExclude(opts.Exclude)
	if err != nil {
		return err
	}

	orchestrator := newOrchestrator(settings, opts)
	configs := fallback.BuildProviderList(settings.Providers, exclude...)

	result, log, err := orchestrator.GenerateWithLog(ctx, gen.request(prompt, settings), configs)
	if opts.Verbose {
		printAttempts(opts.out(), log)
	}
	if err != nil {
		return err
	}

	if opts.Verbose {
		fmt.Fprintf(opts.out(), "--- %s (%s) ---\n", result.Provider, result.Model)
	}
	return writePayload(opts.out(), result.Payload, gen.Structured)
}

func writePayload(w io.Writer, payload llm.Payload, structured bool) error {
	if !structured {
		_, err := fmt.Fprintln(w, payload.Text)
		return err
	}
	data, err := json.MarshalIndent(payload.Value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

const maxAttemptMessageLen = 120

func printAttempts(w io.Writer, log fallback.AttemptLog) {
	if len(log) == 0 {
		return
	}
	fmt.Fprintln(w, "--- Failed providers ---")
	for i, a := range log {
		fmt.Fprintf(w, "[%d] %s (%s): %s\n", i+1, a.Provider, a.Err.Kind, truncateString(a.Err.Message, maxAttemptMessageLen))
	}
}

// truncateString cuts s to at most maxLen runes, marking the cut with "...".
func truncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// resolveSettings loads settings from the environment and replaces the
// provider settings with the selected profile, if any.
func resolveSettings(ctx context.Context, opts Options) (config.Settings, error) {
	settings, err := config.New()
	if err != nil {
		return config.Settings{}, err
	}
	if opts.MaxProviders > 0 {
		settings.MaxProviders = opts.MaxProviders
	}

	switch {
	case opts.ProfileFile != "":
		file, err := config.LoadProfileFile(opts.ProfileFile)
		if err != nil {
			return config.Settings{}, err
		}
		providers, err := file.Lookup(opts.Profile)
		if err != nil {
			return config.Settings{}, err
		}
		settings.Providers = providers
	case opts.Profile != "":
		store, release, err := opts.openStore()
		if err != nil {
			return config.Settings{}, err
		}
		defer release()

		profile, err := store.LoadProfile(ctx, opts.Profile)
		if err != nil {
			return config.Settings{}, err
		}
		settings.Providers = profile.Settings
	}
	return settings, nil
}

func newOrchestrator(settings config.Settings, opts Options) *fallback.Orchestrator {
	logger := opts.logger()
	controller := retry.NewController(settings.Retry, logger, opts.Metrics)
	orchestrator := fallback.New(controller, logger, opts.Metrics)
	if settings.MaxProviders > 0 {
		orchestrator.MaxProviders = settings.MaxProviders
	}
	return orchestrator
}

func parseExclude(names []string) ([]llm.ProviderKind, error) {
	var kinds []llm.ProviderKind
	for _, name := range names {
		kind, err := llm.ParseProviderKind(name)
		if err != nil {
			return nil, fmt.Errorf("invalid --exclude value: %w", err)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// Validate checks every configured provider and records its health.
// It fails only when no provider is usable.
func Validate(ctx context.Context, opts Options) error {
	settings, err := resolveSettings(ctx, opts)
	if err != nil {
		return err
	}
	exclude, err := parseExclude(opts.Exclude)
	if err != nil {
		return err
	}

	configs := fallback.BuildProviderList(settings.Providers, exclude...)
	if len(configs) == 0 {
		return fallback.ErrNoProviders
	}

	w := opts.out()
	healthy := 0
	for _, cfg := range configs {
		status := "ok"
		provider, err := llm.New(cfg, llm.WithLogger(opts.logger()))
		switch {
		case err != nil:
			status = "error: " + err.Error()
		case !provider.ValidateConfig(ctx):
			status = "invalid"
		}

		ok := status == "ok"
		if ok {
			healthy++
		}
		opts.Metrics.UpdateHealth(cfg.Kind.String(), ok)

		fmt.Fprintf(w, "%-12s %-40s %s\n", cfg.Kind, cfg.WithDefaults().Model, status)
	}

	if healthy == 0 {
		return errors.New("no configured provider passed validation")
	}
	return nil
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o Options) dbPath() string {
	if o.DBPath == "" {
		return DefaultDBPath
	}
	return o.DBPath
}

// openStore returns the profile store and a func that releases it.
func (o Options) openStore() (storage.ProfileStore, func(), error) {
	if o.Store != nil {
		return o.Store, func() {}, nil
	}
	var (
		store storage.ProfileStore
		err   error
	)
	if o.dbPath() == MemoryDBPath {
		store = storage.NewMemoryStore()
	} else if store, err = storage.OpenSqlite(o.dbPath()); err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
