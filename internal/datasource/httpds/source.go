package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Source reads one remote file.
type Source struct {
	url    string
	client *Client
}

// NewSource returns a Source fetching url with c. A nil c uses defaults.
func NewSource(url string, c *Client) *Source {
	if c == nil {
		c = NewClient(Config{})
	}
	return &Source{url: url, client: c}
}

// Open starts the download. Any non-2xx final status is an error.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", s.url, http.StatusText(resp.StatusCode))
	}
	return resp.Body, nil
}
