// Command analyze profiles the newest raw partition of every dataset, writes
// its column_report.json and policy-projected <id>_slim.csv, and aggregates
// everything into column_analysis.json.
//
// With -store and -dsn the column profiles are also upserted into the
// lake_column_profiles table of a sqlite, postgres or mssql database.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"

	"transitlake/internal/analyze"
	"transitlake/internal/cli"
	"transitlake/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath     = fs.String("config", "", "lake config YAML (env LAKE_CONFIG; empty uses built-in defaults)")
		root        = fs.String("root", "", "project root (env LAKE_ROOT)")
		store       = fs.String("store", "", "column profile sink: sqlite|postgres|mssql (env LAKE_STORE)")
		dsn         = fs.String("dsn", "", "sink DSN (env LAKE_DSN)")
		metricsFlag = fs.String("metrics-backend", "", "metrics backend: datadog|none (env METRICS_BACKEND)")
		validate    = fs.Bool("validate", false, "validate the configuration and exit")
		quiet       = fs.Bool("quiet", false, "do not print per-dataset tables")
		datasets    cli.Multi
	)
	fs.Var(&datasets, "dataset", "restrict to dataset id (repeatable)")
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}

	log := logging.NewWithWriter(stderr, "analyze")
	cfgFile := cli.Env(*cfgPath, "LAKE_CONFIG", "")
	cfg, err := cli.LoadConfig(cfgFile, cli.Env(*root, "LAKE_ROOT", ""), stderr)
	if err != nil {
		log.Error().Err(err).Msg("config")
		return cli.ExitError
	}
	if *validate {
		log.Info().Str("config", cfgFile).Msg("configuration is valid")
		return cli.ExitOK
	}
	cfg = cfg.Only(datasets...)

	shutdown := cli.SetupMetrics(ctx, cli.Env(*metricsFlag, "METRICS_BACKEND", "none"), "analyze", &log)
	defer shutdown()

	repo, err := cli.OpenStore(ctx, cli.Env(*store, "LAKE_STORE", ""), cli.Env(*dsn, "LAKE_DSN", ""))
	if err != nil {
		log.Error().Err(err).Msg("open store")
		return cli.ExitError
	}
	an := analyze.Analyzer{Config: cfg, Logger: &log}
	if repo != nil {
		defer repo.Close()
		an.Store = repo
	}

	res, err := an.Run(ctx)
	if !*quiet {
		if perr := analyze.FormatSummary(stdout, res); perr != nil {
			log.Warn().Err(perr).Msg("print summary")
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("analysis failed")
		return cli.ExitError
	}
	log.Info().
		Str("path", cfg.AnalysisFile()).
		Int("datasets", len(res.Datasets)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Str("run_id", res.RunID).
		Msg("done")
	return cli.ExitOK
}
