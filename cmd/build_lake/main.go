// Command build_lake maps the extracted DTPM sources onto raw lake
// partitions (dataset=/year=/month=/cut=) and writes a _meta.json next to
// every data file.
//
// Datasets whose sources are missing, or whose workbooks cannot be decoded,
// are skipped; the run still exits 0. Use -extract to unpack the archives
// first when nothing has been extracted yet.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"transitlake/internal/cli"
	"transitlake/internal/extract"
	"transitlake/internal/jsonfile"
	"transitlake/internal/lake"
	"transitlake/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("build_lake", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath     = fs.String("config", "", "lake config YAML (env LAKE_CONFIG; empty uses built-in defaults)")
		root        = fs.String("root", "", "project root (env LAKE_ROOT)")
		doExtract   = fs.Bool("extract", false, "unpack archives first when nothing is extracted yet")
		metricsFlag = fs.String("metrics-backend", "", "metrics backend: datadog|none (env METRICS_BACKEND)")
		asJSON      = fs.Bool("json", false, "print the run summary as JSON")
		datasets    cli.Multi
	)
	fs.Var(&datasets, "dataset", "restrict to dataset id (repeatable)")
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}

	log := logging.NewWithWriter(stderr, "build_lake")
	cfg, err := cli.LoadConfig(cli.Env(*cfgPath, "LAKE_CONFIG", ""), cli.Env(*root, "LAKE_ROOT", ""), stderr)
	if err != nil {
		log.Error().Err(err).Msg("config")
		return cli.ExitError
	}
	cfg = cfg.Only(datasets...)

	shutdown := cli.SetupMetrics(ctx, cli.Env(*metricsFlag, "METRICS_BACKEND", "none"), "build_lake", &log)
	defer shutdown()

	if *doExtract && extract.Needed(cfg.ExtractedDir()) {
		if _, err := (extract.Extractor{DataDir: cfg.DataDir(), OutDir: cfg.ExtractedDir(), Logger: &log}).Run(ctx); err != nil {
			log.Error().Err(err).Msg("extract failed")
			return cli.ExitError
		}
	}

	sum, err := lake.Builder{Config: cfg, Logger: &log}.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("build interrupted")
		return cli.ExitError
	}

	if *asJSON {
		b, err := jsonfile.Marshal(sum)
		if err != nil {
			log.Error().Err(err).Msg("encode summary")
			return cli.ExitError
		}
		stdout.Write(b)
		return cli.ExitOK
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tCUT\tROWS\tBYTES\tDIR")
	for _, p := range sum.Partitions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", p.Dataset, p.Cut, p.Rows, p.Bytes, p.Dir)
	}
	tw.Flush()
	for _, s := range sum.Skipped {
		fmt.Fprintf(stdout, "skipped %s %s: %s\n", s.Dataset, s.Path, s.Reason)
	}
	for _, f := range sum.Failed {
		fmt.Fprintf(stdout, "FAILED %s: %s\n", f.Dataset, f.Reason)
	}
	fmt.Fprintf(stdout, "\n%d partitions, %d skipped, %d failed\n", len(sum.Partitions), len(sum.Skipped), len(sum.Failed))
	return cli.ExitOK
}
