// Package datasource resolves a source URI to something that can be opened
// for reading. Supported forms: a plain path, file://path, http(s)://...
// and s3://bucket/key.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"xer/internal/config"
	"xer/internal/datasource/file"
	"xer/internal/datasource/httpds"
	"xer/internal/datasource/s3src"
)

// Source opens one input stream.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// New picks an implementation by URI scheme. opts are passed through to the
// http and s3 sources.
func New(ctx context.Context, uri string, opts config.Options) (Source, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("datasource: empty uri")
	}
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return file.NewLocal(uri), nil
	}
	switch strings.ToLower(scheme) {
	case "file":
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("datasource: %w", err)
		}
		return file.NewLocal(u.Host + u.Path), nil
	case "http", "https":
		return httpds.NewSource(uri, httpds.NewClient(httpds.ConfigFromOptions(opts))), nil
	case "s3":
		bucket, key, err := s3src.ParseURI(uri)
		if err != nil {
			return nil, err
		}
		return s3src.New(ctx, bucket, key, s3src.ConfigFromOptions(opts))
	default:
		return nil, fmt.Errorf("datasource: unsupported scheme %q", scheme)
	}
}

// Open is New followed by Open.
func Open(ctx context.Context, uri string, opts config.Options) (io.ReadCloser, error) {
	src, err := New(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	return src.Open(ctx)
}
