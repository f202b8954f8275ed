package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyEnv overrides c with XER_* variables read through getenv (usually
// os.Getenv). Empty variables are ignored. List variables are
// comma-separated.
func ApplyEnv(c *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = SplitList(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("XER_JOB", &c.Job)
	str("XER_SCHEMA", &c.Schema.Path)
	str("XER_SOURCE", &c.Source.URI)
	list("XER_IGNORE", &c.Load.IgnoredTables)
	list("XER_LOAD", &c.Load.LoadedTables)
	str("XER_ENCODING", &c.Load.Encoding)
	str("XER_DECIMAL_SEPARATOR", &c.Load.DecimalSeparator)
	str("XER_ESCAPE", &c.Write.Escape)
	str("XER_EXPORT_KIND", &c.Export.Kind)
	str("XER_EXPORT_DSN", &c.Export.DSN)
	str("XER_METRICS_BACKEND", &c.Metrics.Backend)
	str("XER_PUSHGATEWAY_URL", &c.Metrics.PushgatewayURL)
	str("XER_STATSD_ADDR", &c.Metrics.StatsdAddr)

	if err := boolean("XER_STRICT", &c.Load.Strict); err != nil {
		return err
	}
	if err := boolean("XER_DERIVED_COLUMNS", &c.Load.CreateDerivedColumns); err != nil {
		return err
	}
	return boolean("XER_REMOVE_EMPTY_TABLES", &c.Write.RemoveEmptyTables)
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
