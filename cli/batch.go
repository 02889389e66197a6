package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/richinex/llmrelay/fallback"
)

// DefaultBatchWorkers bounds concurrent generations when --workers is unset.
const DefaultBatchWorkers = 4

// BatchOptions configures a batch run.
type BatchOptions struct {
	GenerateOptions
	Workers int
	// MetricsAddr, when set, serves /metrics for the duration of the run.
	MetricsAddr string
}

// BatchResult is one output line. Results are written in input order.
type BatchResult struct {
	Index    int    `json:"index"`
	Prompt   string `json:"prompt"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Text     string `json:"text,omitempty"`
	Value    any    `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ReadPrompts returns the non-blank lines of r.
func ReadPrompts(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var prompts []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompts: %w", err)
	}
	return prompts, nil
}

// Batch runs every prompt from in through the fallback chain with at most
// Workers generations in flight, then writes one JSON line per prompt.
// It returns an error naming how many prompts failed.
func Batch(ctx context.Context, in io.Reader, batch BatchOptions, opts Options) error {
	prompts, err := ReadPrompts(in)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		return errors.New("no prompts to run")
	}

	settings, err := resolveSettings(ctx, opts)
	if err != nil {
		return err
	}
	exclude, err := parseExclude(opts.Exclude)
	if err != nil {
		return err
	}
	configs := fallback.BuildProviderList(settings.Providers, exclude...)
	orchestrator := newOrchestrator(settings, opts)

	if batch.MetricsAddr != "" {
		stop, err := serveMetrics(batch.MetricsAddr, opts)
		if err != nil {
			return err
		}
		defer stop()
	}

	workers := batch.Workers
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}

	// Buffered so workers never block on a reader that stopped collecting
	results := make(chan BatchResult, len(prompts))
	slots := make(chan struct{}, workers)

	for i, prompt := range prompts {
		go func(idx int, prompt string) {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
			case <-ctx.Done():
				results <- BatchResult{Index: idx, Prompt: prompt, Error: ctx.Err().Error()}
				return
			}

			r := BatchResult{Index: idx, Prompt: prompt}
			res, err := orchestrator.Generate(ctx, batch.request(prompt, settings), configs)
			if err != nil {
				r.Error = err.Error()
			} else {
				r.Provider = res.Provider.String()
				r.Model = res.Model
				if batch.Structured {
					r.Value = res.Payload.Value
				} else {
					r.Text = res.Payload.Text
				}
			}
			results <- r
		}(i, prompt)
	}

	// Collect exactly len(prompts) results
	ordered := make([]BatchResult, len(prompts))
	failed := 0
	for range prompts {
		r := <-results
		ordered[r.Index] = r
		if r.Error != "" {
			failed++
		}
	}

	enc := json.NewEncoder(opts.out())
	for _, r := range ordered {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d prompts failed", failed, len(prompts))
	}
	return nil
}

// serveMetrics exposes the options' registry on addr until stop is called.
func serveMetrics(addr string, opts Options) (stop func(), err error) {
	if opts.Registry == nil {
		return nil, errors.New("--metrics-addr requires a metrics registry")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := opts.logger().With(zap.String("addr", listener.Addr().String()))
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
