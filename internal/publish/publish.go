// Package publish uploads processed lake artifacts to S3 or an S3-compatible
// object store.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"transitlake/internal/logging"
	"transitlake/internal/metrics"
)

// ErrNoBucket is returned when a publisher has no bucket.
var ErrNoBucket = errors.New("publish: bucket is required")

// PutObjectAPI is the subset of *s3.Client the publisher needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures NewS3Client. Leave AccessKey/SecretKey empty to use the
// default AWS credential chain.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client from cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Publisher uploads files under a local root to Bucket/Prefix.
type Publisher struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	Logger *zerolog.Logger
}

// Object is one uploaded file.
type Object struct {
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

// Result lists what PublishDir uploaded.
type Result struct {
	Objects []Object `json:"objects"`
	Bytes   int64    `json:"bytes"`
}

// PublishDir uploads every regular file under root accepted by match (nil
// accepts all), in sorted path order. match receives the slash-separated path
// relative to root. The first failed upload stops the walk.
func (p Publisher) PublishDir(ctx context.Context, root string, match func(rel string) bool) (Result, error) {
	if p.Bucket == "" {
		return Result{}, ErrNoBucket
	}
	log := logging.Or(p.Logger)

	files, err := listFiles(root, match)
	if err != nil {
		return Result{}, err
	}

	res := Result{Objects: []Object{}}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		key := p.Key(rel)
		n, err := p.put(ctx, filepath.Join(root, filepath.FromSlash(rel)), key)
		if err != nil {
			return res, fmt.Errorf("upload %s: %w", rel, err)
		}
		res.Objects = append(res.Objects, Object{Key: key, Bytes: n})
		res.Bytes += n
		metrics.AddBytes("published", n)
		log.Info().Str("bucket", p.Bucket).Str("key", key).Int64("bytes", n).Msg("uploaded")
	}
	return res, nil
}

// Key maps a root-relative slash path to an object key.
func (p Publisher) Key(rel string) string {
	prefix := strings.Trim(p.Prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

func (p Publisher) put(ctx context.Context, local, key string) (int64, error) {
	f, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	_, err = p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(ContentType(key)),
	})
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// ContentType guesses the MIME type of an object from its extension.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func listFiles(root string, match func(string) bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if match == nil || match(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
