// Package main provides the relay CLI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/richinex/llmrelay/cli"
	"github.com/richinex/llmrelay/config"
	"github.com/richinex/llmrelay/fallback"
	"github.com/richinex/llmrelay/metrics"
)

var (
	// Global flags
	profile      string
	profileFile  string
	dbPath       string
	maxProviders int
	exclude      []string
	verbose      bool
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Resilient LLM generation across providers",
		Long: `Send prompts to a chain of LLM providers with retry and fallback.

Each provider is retried on transient failures (timeouts, 5xx, rate limits,
malformed JSON) with exponential backoff. Quota and credential failures move
straight to the next provider. Structured output is recovered from prose,
markdown fences and truncated JSON.

Providers: openai, anthropic, gemini, groq, together, deepseek, ollama,
huggingface, replicate. Keys come from LLM_API_KEY, LLM_PROVIDER_KEYS,
the vendor *_API_KEY variables or a saved profile.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Saved provider profile to use")
	rootCmd.PersistentFlags().StringVar(&profileFile, "profile-file", "", "YAML profile file (used instead of the profile database)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cli.DefaultDBPath, "Database path for saved profiles (:memory: keeps them in memory)")
	rootCmd.PersistentFlags().IntVar(&maxProviders, "max-providers", 0, "Maximum providers to try (default LLM_MAX_PROVIDERS or 3)")
	rootCmd.PersistentFlags().StringSliceVar(&exclude, "exclude", nil, "Provider(s) to skip")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(generateCmd(ctx))
	rootCmd.AddCommand(batchCmd(ctx))
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(validateCmd(ctx))
	rootCmd.AddCommand(profileCmd(ctx))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options builds the shared CLI options and installs the global logger.
// The returned func flushes the logger.
func options(out io.Writer) (cli.Options, func(), error) {
	logger, err := cli.NewLogger(verbose)
	if err != nil {
		return cli.Options{}, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	restore := zap.ReplaceGlobals(logger)

	reg := prometheus.NewRegistry()
	opts := cli.Options{
		Profile:      profile,
		ProfileFile:  profileFile,
		DBPath:       dbPath,
		MaxProviders: maxProviders,
		Exclude:      exclude,
		Verbose:      verbose,
		Logger:       logger,
		Registry:     reg,
		Metrics:      metrics.NewRecorder(reg),
		Out:          out,
	}
	return opts, func() {
		_ = logger.Sync()
		restore()
	}, nil
}

func generateCmd(ctx context.Context) *cobra.Command {
	var gen cli.GenerateOptions
	var temperature float64

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate text or JSON from the first provider that succeeds",
		Long: `Generate a completion for a prompt. Reads the prompt from stdin when
no argument is given. With --json the response is parsed into a JSON value
and printed indented.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptFrom(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("temperature") {
				gen.Temperature = &temperature
			}

			opts, done, err := options(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer done()
			return cli.Generate(ctx, prompt, gen, opts)
		},
	}

	cmd.Flags().StringVarP(&gen.System, "system", "s", "", "System message")
	cmd.Flags().BoolVar(&gen.Structured, "json", false, "Request and parse a JSON response")
	cmd.Flags().Float64VarP(&temperature, "temperature", "t", 0, "Sampling temperature 0-2 (default LLM_TEMPERATURE or 0.2)")

	return cmd
}

func batchCmd(ctx context.Context) *cobra.Command {
	var batch cli.BatchOptions
	var temperature float64
	var input string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run one prompt per input line concurrently",
		Long: `Run every non-blank line of the input as its own prompt through the
fallback chain. Results are written as JSON lines in input order. Use
--metrics-addr to expose Prometheus metrics while the batch runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			if cmd.Flags().Changed("temperature") {
				batch.Temperature = &temperature
			}

			opts, done, err := options(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer done()
			return cli.Batch(ctx, in, batch, opts)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "Prompt file, one prompt per line (- for stdin)")
	cmd.Flags().IntVarP(&batch.Workers, "workers", "w", cli.DefaultBatchWorkers, "Concurrent generations")
	cmd.Flags().StringVar(&batch.MetricsAddr, "metrics-addr", "", "Serve /metrics on this address during the run")
	cmd.Flags().StringVarP(&batch.System, "system", "s", "", "System message for every prompt")
	cmd.Flags().BoolVar(&batch.Structured, "json", false, "Request and parse JSON responses")
	cmd.Flags().Float64VarP(&temperature, "temperature", "t", 0, "Sampling temperature 0-2")

	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported providers and their defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListProviders(cmd.OutOrStdout())
		},
	}
}

func validateCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configured provider chain without generating",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, done, err := options(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer done()
			return cli.Validate(ctx, opts)
		},
	}
}

func profileCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved provider profiles",
	}
	cmd.AddCommand(profileSetCmd(ctx))
	cmd.AddCommand(profileShowCmd(ctx))
	cmd.AddCommand(profileDeleteCmd(ctx))
	return cmd
}

func profileSetCmd(ctx context.Context) *cobra.Command {
	var settings fallback.Settings
	var keys []string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "set [name]",
		Short: "Create or replace a profile",
		Example: `  relay profile set work --provider openai --api-key $OPENAI_API_KEY \
    --key groq=$GROQ_API_KEY --key ollama=`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := config.ParseProviderKeys(strings.Join(keys, ","))
			if err != nil {
				return err
			}
			settings.Additional = creds
			settings.Timeout = timeout

			opts, done, err := options(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer done()
			return cli.SaveProfile(ctx, args[0], settings, opts)
		},
	}

	cmd.Flags().StringVar(&settings.Primary, "provider", "", "Primary provider (default openai)")
	cmd.Flags().StringVar(&settings.PrimaryAPIKey, "api-key", "", "Primary provider API key")
	cmd.Flags().StringVar(&settings.Model, "model", "", "Primary provider model")
	cmd.Flags().StringVar(&settings.BaseURL, "base-url", "", "Primary provider base URL")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "Additional provider as kind=key (repeatable, in fallback order)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-call timeout for every provider")

	return cmd
}

func profileShowCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Show a profile with keys masked, or list profiles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			opts, done, err := options(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer done()
			return cli.ShowProfile(ctx, name, opts)
		},
	}
}

func profileDeleteCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, done, err := options(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer done()
			return cli.DeleteProfile(ctx, args[0], opts)
		},
	}
}

func promptFrom(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given")
	}
	return prompt, nil
}
