// Package datadog sends load metrics to a DogStatsD agent.
//
// Labels become tags ("table:TASK", "step:load"). Durations observed through
// ObserveHistogram are sent as distributions so per-table percentiles can be
// computed agent side.
package datadog

import (
	"errors"
	"fmt"
	"sort"

	"xer/internal/metrics"

	"github.com/DataDog/datadog-go/v5/statsd"
)

const (
	DefaultAddr      = "127.0.0.1:8125"
	DefaultNamespace = "xer."
)

// Config holds the agent address and what is added to every metric.
type Config struct {
	// Addr is "host:port" or "unix:///path/to/socket". Empty means DefaultAddr.
	Addr      string
	Namespace string
	Tags      []string
}

// ForJob is the configuration the CLI uses: default namespace and a job tag.
func ForJob(job, addr string) Config {
	cfg := Config{Addr: addr, Namespace: DefaultNamespace}
	if job != "" {
		cfg.Tags = []string{"job:" + job}
	}
	return cfg
}

// client is the part of *statsd.Client the backend calls.
type client interface {
	Count(name string, value int64, tags []string, rate float64) error
	Distribution(name string, value float64, tags []string, rate float64) error
	Close() error
}

// Backend implements metrics.Backend. The zero value drops everything.
type Backend struct {
	c client
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend connects a statsd client for cfg.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	var opts []statsd.Option
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.Tags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.Tags))
	}
	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: statsd client for %s: %w", cfg.Addr, err)
	}
	return &Backend{c: c}, nil
}

// IncCounter sends a count. DogStatsD counts are integers; fractions are
// truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.c == nil {
		return
	}
	_ = b.c.Count(name, int64(delta), tags(labels), 1)
}

func (b *Backend) ObserveHistogram(name string, v float64, labels metrics.Labels) {
	if b.c == nil {
		return
	}
	_ = b.c.Distribution(name, v, tags(labels), 1)
}

// Flush closes the client, which sends whatever is still buffered. Call it
// once at exit.
func (b *Backend) Flush() error {
	if b.c == nil {
		return nil
	}
	err := b.c.Close()
	b.c = nil
	if errors.Is(err, statsd.ErrNoClient) {
		return nil
	}
	return err
}

func tags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		if v != "" {
			out = append(out, k+":"+v)
		}
	}
	sort.Strings(out)
	return out
}
