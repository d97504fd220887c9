// Command extract unpacks the raw DTPM downloads (ZIPs, nested ZIPs and gzip
// members) into the extracted directory, then prints the resulting tree.
//
// Extraction is skipped when the extracted directory already holds CSV files,
// unless -force is given.
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

	"transitlake/internal/cli"
	"transitlake/internal/extract"
	"transitlake/internal/logging"
	"transitlake/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath = fs.String("config", "", "lake config YAML (env LAKE_CONFIG; empty uses built-in defaults)")
		root    = fs.String("root", "", "project root (env LAKE_ROOT)")
		force   = fs.Bool("force", false, "extract even when CSV files are already present")
		tree    = fs.Bool("tree", true, "print the extracted directory tree")
	)
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}

	log := logging.NewWithWriter(stderr, "extract")
	cfg, err := cli.LoadConfig(cli.Env(*cfgPath, "LAKE_CONFIG", ""), cli.Env(*root, "LAKE_ROOT", ""), stderr)
	if err != nil {
		log.Error().Err(err).Msg("config")
		return cli.ExitError
	}

	out := cfg.ExtractedDir()
	if !*force && !extract.Needed(out) {
		log.Info().Str("dir", out).Msg("already extracted; use -force to redo")
	} else {
		start := time.Now()
		res, err := extract.Extractor{DataDir: cfg.DataDir(), OutDir: out, Logger: &log}.Run(ctx)
		status := "ok"
		if err != nil {
			status = "failed"
		}
		metrics.RecordStep("extract", status, start)
		if err != nil {
			log.Error().Err(err).Msg("extract failed")
			if errors.Is(err, extract.ErrSourceNotFound) {
				fmt.Fprintf(stderr, "no data directory at %s; download the DTPM archives first\n", cfg.DataDir())
			}
			return cli.ExitError
		}
		fmt.Fprintf(stdout, "archives=%d nested=%d gz=%d files=%d bytes=%d\n",
			res.Archives, res.NestedArchives, res.GzipFiles, res.FilesWritten, res.BytesWritten)
	}

	if *tree {
		fmt.Fprintf(stdout, "%s\n", out)
		if err := extract.PrintTree(stdout, out); err != nil {
			log.Warn().Err(err).Msg("print tree")
		}
	}
	return cli.ExitOK
}
