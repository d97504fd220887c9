// Command catalog folds every partition _meta.json under the lake root into
// lake_catalog.json, flagging schema drift and policy columns never observed.
//
// With -store and -dsn each partition is also upserted into the
// lake_partitions table.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"transitlake/internal/catalog"
	"transitlake/internal/cli"
	"transitlake/internal/logging"
	"transitlake/internal/metrics"
	"transitlake/internal/policy"
	"transitlake/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath     = fs.String("config", "", "lake config YAML (env LAKE_CONFIG; empty uses built-in defaults)")
		root        = fs.String("root", "", "project root (env LAKE_ROOT)")
		out         = fs.String("out", "", "catalog path (default: paths.catalog_file)")
		store       = fs.String("store", "", "partition sink: sqlite|postgres|mssql (env LAKE_STORE)")
		dsn         = fs.String("dsn", "", "sink DSN (env LAKE_DSN)")
		metricsFlag = fs.String("metrics-backend", "", "metrics backend: datadog|none (env METRICS_BACKEND)")
	)
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}

	log := logging.NewWithWriter(stderr, "catalog")
	cfg, err := cli.LoadConfig(cli.Env(*cfgPath, "LAKE_CONFIG", ""), cli.Env(*root, "LAKE_ROOT", ""), stderr)
	if err != nil {
		log.Error().Err(err).Msg("config")
		return cli.ExitError
	}

	shutdown := cli.SetupMetrics(ctx, cli.Env(*metricsFlag, "METRICS_BACKEND", "none"), "catalog", &log)
	defer shutdown()

	start := time.Now()
	cat, err := catalog.Build(cfg.LakeRoot(), policy.FromConfig(cfg), time.Now())
	if err != nil {
		metrics.RecordStep("catalog", "failed", start)
		log.Error().Err(err).Msg("build catalog")
		if errors.Is(err, catalog.ErrInvalidMeta) {
			fmt.Fprintln(stderr, "fix or remove the broken _meta.json and rerun build_lake")
		}
		return cli.ExitError
	}

	path := *out
	if path == "" {
		path = cfg.CatalogFile()
	}
	if err := catalog.Write(path, cat); err != nil {
		metrics.RecordStep("catalog", "failed", start)
		log.Error().Err(err).Msg("write catalog")
		return cli.ExitError
	}
	metrics.RecordStep("catalog", "ok", start)

	if err := sink(ctx, cli.Env(*store, "LAKE_STORE", ""), cli.Env(*dsn, "LAKE_DSN", ""), cat); err != nil {
		log.Error().Err(err).Msg("store partitions")
		return cli.ExitError
	}

	for _, d := range cat.Datasets {
		drift := ""
		if d.SchemaDrift {
			drift = "  [schema drift]"
		}
		fmt.Fprintf(stdout, "  %-14s %3d partitions  %12d rows  %9.2f MB%s\n",
			d.Dataset, len(d.Partitions), d.TotalRows, d.TotalSizeMB, drift)
		if len(d.PolicyGaps) > 0 {
			fmt.Fprintf(stdout, "  %-14s policy columns never observed: %v\n", "", d.PolicyGaps)
		}
	}
	fmt.Fprintf(stdout, "\n  %d datasets, %d partitions, %d rows, %.3f GB -> %s\n",
		cat.Summary.TotalDatasets, cat.Summary.TotalPartitions, cat.Summary.TotalRows, cat.Summary.TotalSizeGB, path)
	return cli.ExitOK
}

func sink(ctx context.Context, kind, dsn string, cat catalog.Catalog) error {
	repo, err := cli.OpenStore(ctx, kind, dsn)
	if err != nil || repo == nil {
		return err
	}
	defer repo.Close()

	if err := repo.EnsureTables(ctx, []storage.TableSpec{catalog.Table}); err != nil {
		return err
	}
	_, err = repo.Upsert(ctx, catalog.Table, cat.Records())
	return err
}
