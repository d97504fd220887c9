// Command publish uploads the processed lake (slim extracts, column reports)
// and the lake-level JSON artifacts to an S3 bucket or an S3-compatible store
// such as MinIO.
//
// Credentials come from the default AWS chain, or from S3_ACCESS_KEY and
// S3_SECRET_KEY when both are set.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"strings"

	"transitlake/internal/cli"
	"transitlake/internal/logging"
	"transitlake/internal/publish"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, newClient)
	stop()
	os.Exit(code)
}

func newClient(ctx context.Context, cfg publish.S3Config) (publish.PutObjectAPI, error) {
	return publish.NewS3Client(ctx, cfg)
}

type clientFunc func(ctx context.Context, cfg publish.S3Config) (publish.PutObjectAPI, error)

func run(ctx context.Context, args []string, stdout, stderr io.Writer, mk clientFunc) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath   = fs.String("config", "", "lake config YAML (env LAKE_CONFIG; empty uses built-in defaults)")
		root      = fs.String("root", "", "project root (env LAKE_ROOT)")
		dir       = fs.String("dir", "", "local directory to upload (default: the lake root)")
		bucket    = fs.String("bucket", "", "target bucket (env S3_BUCKET)")
		prefix    = fs.String("prefix", "", "key prefix (env S3_PREFIX)")
		region    = fs.String("region", "", "AWS region (env AWS_REGION, default us-east-1)")
		endpoint  = fs.String("endpoint", "", "S3-compatible endpoint URL (env S3_ENDPOINT)")
		pathStyle = fs.Bool("path-style", false, "use path-style addressing (MinIO)")
		include   = fs.String("include", "*.csv,*.json", "comma-separated base-name globs to upload")
		raw       = fs.Bool("raw", false, "also upload the raw layer")
	)
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}

	b := cli.Env(*bucket, "S3_BUCKET", "")
	if b == "" {
		fmt.Fprintln(stderr, "missing -bucket")
		fs.Usage()
		return cli.ExitUsage
	}
	globs := strings.Split(*include, ",")
	for _, g := range globs {
		if _, err := path.Match(strings.TrimSpace(g), ""); err != nil {
			fmt.Fprintf(stderr, "bad -include pattern %q: %v\n", g, err)
			return cli.ExitUsage
		}
	}

	log := logging.NewWithWriter(stderr, "publish")
	cfg, err := cli.LoadConfig(cli.Env(*cfgPath, "LAKE_CONFIG", ""), cli.Env(*root, "LAKE_ROOT", ""), stderr)
	if err != nil {
		log.Error().Err(err).Msg("config")
		return cli.ExitError
	}
	src := *dir
	if src == "" {
		src = cfg.LakeRoot()
	}

	client, err := mk(ctx, publish.S3Config{
		Region:       cli.Env(*region, "AWS_REGION", "us-east-1"),
		Endpoint:     cli.Env(*endpoint, "S3_ENDPOINT", ""),
		AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		SecretKey:    os.Getenv("S3_SECRET_KEY"),
		UsePathStyle: *pathStyle,
	})
	if err != nil {
		log.Error().Err(err).Msg("s3 client")
		return cli.ExitError
	}

	p := publish.Publisher{Client: client, Bucket: b, Prefix: cli.Env(*prefix, "S3_PREFIX", ""), Logger: &log}
	res, err := p.PublishDir(ctx, src, matcher(globs, *raw))
	if err != nil {
		log.Error().Err(err).Int("uploaded", len(res.Objects)).Msg("publish failed")
		return cli.ExitError
	}
	fmt.Fprintf(stdout, "uploaded %d objects (%d bytes) to s3://%s/%s\n", len(res.Objects), res.Bytes, b, strings.Trim(p.Prefix, "/"))
	return cli.ExitOK
}

// matcher accepts files whose base name matches one of globs. Hidden files
// (staging temps) are never uploaded, and raw/ only when withRaw is set.
func matcher(globs []string, withRaw bool) func(string) bool {
	return func(rel string) bool {
		base := path.Base(rel)
		if strings.HasPrefix(base, ".") {
			return false
		}
		if !withRaw && (rel == "raw" || strings.HasPrefix(rel, "raw/")) {
			return false
		}
		for _, g := range globs {
			if ok, _ := path.Match(strings.TrimSpace(g), base); ok {
				return true
			}
		}
		return false
	}
}
