// Package config defines the JSON-serializable configuration for loading,
// rewriting and exporting exchange files. It is small and explicit so a run
// can be described by one file plus a handful of XER_* overrides.
//
// Example (trimmed):
//
//	{
//	  "job":    "nightly-import",
//	  "schema": { "path": "configs/schema.json" },
//	  "source": { "uri": "s3://bucket/plan.xer", "options": { "region": "eu-central-1" } },
//	  "load":   { "ignored_tables": ["OBS"], "strict": false, "create_derived_columns": true },
//	  "write":  { "escape": "quote", "remove_empty_tables": true },
//	  "export": { "kind": "sqlite", "dsn": "file:plan.db", "auto_create_table": true }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"xer/internal/schema"
)

// Config is the top-level object decoded from a configuration file.
type Config struct {
	// Job labels metrics and log lines for this run.
	Job string `json:"job"`

	Schema  SchemaConfig  `json:"schema"`
	Source  Source        `json:"source"`
	Load    LoadConfig    `json:"load"`
	Write   WriteConfig   `json:"write"`
	Export  ExportConfig  `json:"export"`
	Metrics MetricsConfig `json:"metrics"`
}

// SchemaConfig points at the table/column/relation definition.
type SchemaConfig struct {
	Path string `json:"path"`
}

// Source identifies the input file. URI may be a local path, file://,
// http(s):// or s3://bucket/key.
type Source struct {
	URI string `json:"uri"`

	// Options is interpreted by the source implementation, e.g.
	//   region (string) for s3, timeout_sec/max_retries (int) for http.
	Options Options `json:"options"`
}

// LoadConfig carries the engine options recognised during a load.
type LoadConfig struct {
	IgnoredTables []string `json:"ignored_tables"`
	LoadedTables  []string `json:"loaded_tables"`

	// ResetDefaultIgnored drops the built-in OBS/POBS/RISKTYPE ignore list
	// before IgnoredTables is applied.
	ResetDefaultIgnored bool `json:"reset_default_ignored"`

	Strict bool `json:"strict"`

	// CreateDerivedColumns attaches the schema's derived columns plus
	// DerivedColumns below once the load completes.
	CreateDerivedColumns bool            `json:"create_derived_columns"`
	DerivedColumns       []DerivedColumn `json:"derived_columns"`

	// DecimalSeparator is "." (default) or ",".
	DecimalSeparator string `json:"decimal_separator"`
	// Encoding is a WHATWG encoding label; default windows-1251.
	Encoding string `json:"encoding"`
	// ChannelBuffer bounds each table's record queue.
	ChannelBuffer int `json:"channel_buffer"`
}

// DerivedColumn attaches one derived column to Table.
type DerivedColumn struct {
	Table  string           `json:"table"`
	Column schema.ColumnDef `json:"column"`
}

// WriteConfig controls the writer.
type WriteConfig struct {
	// Escape is "quote" (default), "strip" or "markup".
	Escape            string `json:"escape"`
	RemoveEmptyTables bool   `json:"remove_empty_tables"`
	IncludeDerived    bool   `json:"include_derived"`
	Encoding          string `json:"encoding"`
	Version           string `json:"version"`
	User              string `json:"user"`
	FullName          string `json:"full_name"`
	Product           string `json:"product"`
	Currency          string `json:"currency"`
}

// ExportConfig selects the SQL sink a loaded model is copied into.
type ExportConfig struct {
	// Kind selects the storage backend: sqlite, postgres, mssql, mysql.
	// Empty disables export.
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`

	// TablePrefix is prepended to every exported table name ("xer_").
	TablePrefix     string `json:"table_prefix"`
	BatchSize       int    `json:"batch_size"`
	AutoCreateTable bool   `json:"auto_create_table"`

	// Options is interpreted by the backend.
	Options Options `json:"options"`
}

// MetricsConfig selects a metrics backend: none, pushgateway, datadog.
type MetricsConfig struct {
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url"`
	StatsdAddr     string `json:"statsd_addr"`
}

// Load reads and decodes a configuration file. Unknown fields are rejected
// so typos surface early.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var c Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	// Absent "options" keys never reach UnmarshalJSON.
	if c.Source.Options == nil {
		c.Source.Options = Options{}
	}
	if c.Export.Options == nil {
		c.Export.Options = Options{}
	}
	return c, nil
}

// Options is a small helper to fetch typed values from free-form JSON maps.
// It performs only minimal type coercion and returns the provided default
// when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so float64 is accepted and truncated.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringSlice returns a []string for key when the value is an array of
// strings. Returns nil when the key is missing or not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// UnmarshalJSON makes a null "options" object decode to an empty map. Load
// fills in the ones that are missing altogether.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
