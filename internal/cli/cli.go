// Package cli holds the wiring shared by the lake commands: flag/env
// resolution, config loading, the metrics backend switch and the optional
// storage sink.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"transitlake/internal/config"
	"transitlake/internal/metrics"
	"transitlake/internal/metrics/datadog"
	"transitlake/internal/storage"

	// every storage backend, selected at runtime by -store.
	_ "transitlake/internal/storage/all"
)

// Exit codes shared by every command.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// ErrInvalidConfig is returned by LoadConfig when validation reports errors.
var ErrInvalidConfig = errors.New("invalid configuration")

// Env returns flagVal when set, else the environment variable key, else def.
func Env(flagVal, key, def string) string {
	if v := strings.TrimSpace(flagVal); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// LoadConfig loads path over the defaults (an empty path means defaults
// only), re-roots it when root is set, and validates it. Every issue is
// printed to w; any error-severity issue makes it return ErrInvalidConfig.
func LoadConfig(path, root string, w io.Writer) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if root != "" {
		cfg = cfg.WithRoot(root)
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(w, iss.String())
	}
	if config.HasErrors(issues) {
		return config.Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, describe(path))
	}
	return cfg, nil
}

func describe(path string) string {
	if path == "" {
		return "built-in defaults"
	}
	return path
}

// SetupMetrics installs the named backend ("datadog", or "none"/"" for the
// no-op one) and returns the shutdown func that flushes it. Init failures fall
// back to the no-op backend; metrics never fail a run.
func SetupMetrics(ctx context.Context, backend, job string, log *zerolog.Logger) func() {
	switch backend {
	case "datadog":
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Warn().Err(err).Msg("metrics: datadog init failed; using nop")
			return func() {}
		}
		log.Info().Str("backend", backend).Str("job", job).Strs("tags", tags).Msg("metrics enabled")
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics: datadog close/flush error")
			}
			metrics.SetBackend(nil)
		}
	case "", "none":
		log.Debug().Msg("metrics disabled")
	default:
		log.Warn().Str("backend", backend).Msg("metrics: unknown backend; metrics disabled")
	}
	return func() {}
}

// OpenStore opens the storage sink of kind. An empty kind means no sink and
// returns a nil Repository.
func OpenStore(ctx context.Context, kind, dsn string) (storage.Repository, error) {
	if kind == "" || kind == "none" {
		return nil, nil
	}
	if dsn == "" {
		return nil, fmt.Errorf("store %s: missing dsn", kind)
	}
	return storage.Open(ctx, storage.Config{Kind: kind, DSN: dsn})
}

// Multi is a repeatable string flag.
type Multi []string

func (m *Multi) String() string { return strings.Join(*m, ",") }

// Set accepts one value or a comma-separated list.
func (m *Multi) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*m = append(*m, s)
		}
	}
	return nil
}
