// Command profile samples a single delimited file and prints its column
// report, without touching the lake.
//
// It reads at most -sample data rows from the start of the file, so it is
// cheap to point at multi-gigabyte exports. Columns listed in -policy are
// marked as selected.
//
// Output modes
//
//   - Default: a human-readable table on stdout.
//   - -json: the column_report.json document on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"transitlake/internal/cli"
	"transitlake/internal/jsonfile"
	"transitlake/internal/logging"
	lakecsv "transitlake/internal/parser/csv"
	"transitlake/internal/probe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		file     = fs.String("file", "", "delimited file to profile")
		sep      = fs.String("sep", "|", "field separator (one character)")
		encoding = fs.String("encoding", "utf-8", "source charset, e.g. utf-8, latin1, windows-1252")
		sample   = fs.Int("sample", probe.DefaultSettings().SampleRows, "maximum data rows to sample")
		name     = fs.String("name", "", "dataset name recorded in the report (default: file stem)")
		asJSON   = fs.Bool("json", false, "print the JSON report instead of the table")
		pol      cli.Multi
	)
	fs.Var(&pol, "policy", "wanted columns, comma-separated or repeated")
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}

	if strings.TrimSpace(*file) == "" {
		fmt.Fprintln(stderr, "missing -file")
		fs.Usage()
		return cli.ExitUsage
	}
	if utf8.RuneCountInString(*sep) != 1 {
		fmt.Fprintf(stderr, "-sep must be one character, got %q\n", *sep)
		return cli.ExitUsage
	}
	if *sample <= 0 {
		fmt.Fprintln(stderr, "-sample must be positive")
		return cli.ExitUsage
	}

	log := logging.NewWithWriter(stderr, "profile")
	comma, _ := utf8.DecodeRuneInString(*sep)
	s := probe.DefaultSettings()
	s.SampleRows = *sample

	rep, err := probe.ProfileFile(ctx, *file, pol, lakecsv.Options{Comma: comma, Encoding: *encoding, LazyQuotes: true}, s)
	if err != nil {
		log.Error().Err(err).Str("path", *file).Msg("profile failed")
		return cli.ExitError
	}
	rep.Dataset = *name
	if rep.Dataset == "" {
		base := filepath.Base(*file)
		rep.Dataset = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if *asJSON {
		b, err := jsonfile.Marshal(rep)
		if err != nil {
			log.Error().Err(err).Msg("encode report")
			return cli.ExitError
		}
		stdout.Write(b)
		return cli.ExitOK
	}

	if rep.RowsSampled == 0 && len(rep.Columns) == 0 {
		// Always print a predictable line for scripts.
		fmt.Fprintln(stdout, "profile: empty file")
		return cli.ExitOK
	}
	fmt.Fprintf(stdout, "%s\n", rep.Dataset)
	if err := probe.FormatSummary(stdout, rep); err != nil {
		log.Error().Err(err).Msg("print report")
		return cli.ExitError
	}
	return cli.ExitOK
}
