// Package s3src reads exchange files from S3 or an S3-compatible store.
package s3src

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"xer/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrBadURI is returned for anything that is not s3://bucket/key.
var ErrBadURI = errors.New("s3src: expected s3://bucket/key")

// Config holds connection settings.
type Config struct {
	Region string
	// Endpoint is a custom endpoint (MinIO, LocalStack).
	Endpoint string
	// UsePathStyle is required by most S3-compatible stores.
	UsePathStyle bool
}

// ConfigFromOptions reads region, endpoint and use_path_style.
func ConfigFromOptions(o config.Options) Config {
	return Config{
		Region:       o.String("region", ""),
		Endpoint:     o.String("endpoint", ""),
		UsePathStyle: o.Bool("use_path_style", false),
	}
}

type getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source reads one object.
type Source struct {
	client getter
	bucket string
	key    string
}

// New builds a client from the default AWS credential chain.
func New(ctx context.Context, bucket, key string, cfg Config) (*Source, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3src: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), bucket, key), nil
}

// NewWithClient uses a pre-configured client.
func NewWithClient(client *s3.Client, bucket, key string) *Source {
	return &Source{client: client, bucket: bucket, key: key}
}

// Open starts the download. The caller closes the body.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3src: get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return out.Body, nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", ErrBadURI
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrBadURI
	}
	return bucket, key, nil
}
