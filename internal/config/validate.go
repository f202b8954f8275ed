package config

import (
	"fmt"
	"strings"

	"xer/internal/parser/xer"
	"xer/internal/value"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config (e.g. "export.dsn", "load.derived_columns[1].table").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Known backend kinds. Unknown kinds are warnings so new backends can be
// registered without touching this file.
var (
	knownExportKinds  = map[string]struct{}{"sqlite": {}, "postgres": {}, "mssql": {}, "mysql": {}}
	knownEscapeModes  = map[string]struct{}{"": {}, "quote": {}, "strip": {}, "markup": {}}
	knownMetricsKinds = map[string]struct{}{"": {}, "none": {}, "pushgateway": {}, "datadog": {}}
)

// Validate lints a decoded Config without mutating it.
func Validate(c Config) []Issue {
	var issues []Issue
	if strings.TrimSpace(c.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; metrics will be labelled \"xer\"",
		})
	}
	if strings.TrimSpace(c.Schema.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "schema.path",
			Message:  "a schema definition is required",
		})
	}
	if strings.TrimSpace(c.Source.URI) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.uri",
			Message:  "source.uri must not be empty",
		})
	}
	issues = append(issues, validateLoad(c.Load)...)
	issues = append(issues, validateWrite(c.Write)...)
	issues = append(issues, validateExport(c.Export)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	return issues
}

func validateLoad(l LoadConfig) []Issue {
	var issues []Issue
	if _, err := value.ParseSeparator(l.DecimalSeparator); err != nil {
		issues = append(issues, Issue{SeverityError, "load.decimal_separator", err.Error()})
	}
	if _, err := xer.LookupEncoding(l.Encoding); err != nil {
		issues = append(issues, Issue{SeverityError, "load.encoding", err.Error()})
	}
	if l.ChannelBuffer < 0 {
		issues = append(issues, Issue{SeverityError, "load.channel_buffer", "must be >= 0"})
	}

	ignored := make(map[string]struct{}, len(l.IgnoredTables))
	for _, t := range l.IgnoredTables {
		ignored[t] = struct{}{}
	}
	for i, t := range l.LoadedTables {
		if _, ok := ignored[t]; ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("load.loaded_tables[%d]", i),
				Message:  fmt.Sprintf("%s is also ignored; the loaded list wins", t),
			})
		}
	}

	if len(l.DerivedColumns) > 0 && !l.CreateDerivedColumns {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "load.derived_columns",
			Message:  "derived columns are listed but create_derived_columns is false",
		})
	}
	for i, d := range l.DerivedColumns {
		p := fmt.Sprintf("load.derived_columns[%d]", i)
		if strings.TrimSpace(d.Table) == "" {
			issues = append(issues, Issue{SeverityError, p + ".table", "table must not be empty"})
		}
		if strings.TrimSpace(d.Column.Name) == "" {
			issues = append(issues, Issue{SeverityError, p + ".column.name", "column name must not be empty"})
		}
		if d.Column.Derived == nil {
			issues = append(issues, Issue{SeverityError, p + ".column.derived", "lookup parameters are required"})
			continue
		}
		if d.Column.Derived.Relation == "" || d.Column.Derived.DiscriminatorField == "" || d.Column.Derived.ValueField == "" {
			issues = append(issues, Issue{SeverityError, p + ".column.derived", "relation, discriminator_field and value_field are required"})
		}
	}
	return issues
}

func validateWrite(w WriteConfig) []Issue {
	var issues []Issue
	if _, ok := knownEscapeModes[strings.ToLower(w.Escape)]; !ok {
		issues = append(issues, Issue{SeverityError, "write.escape", fmt.Sprintf("unknown escape mode %q (quote|strip|markup)", w.Escape)})
	}
	if strings.EqualFold(w.Escape, "strip") {
		issues = append(issues, Issue{SeverityWarning, "write.escape", "strip mode loses embedded tabs and line breaks on re-read"})
	}
	if _, err := xer.LookupEncoding(w.Encoding); err != nil {
		issues = append(issues, Issue{SeverityError, "write.encoding", err.Error()})
	}
	return issues
}

func validateExport(e ExportConfig) []Issue {
	var issues []Issue
	if strings.TrimSpace(e.Kind) == "" {
		return nil
	}
	if _, ok := knownExportKinds[e.Kind]; !ok {
		issues = append(issues, Issue{SeverityWarning, "export.kind", fmt.Sprintf("unknown export kind %q; ensure a matching backend is registered", e.Kind)})
	}
	if strings.TrimSpace(e.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "export.dsn", "export requires a dsn"})
	}
	if e.BatchSize < 0 {
		issues = append(issues, Issue{SeverityError, "export.batch_size", "must be >= 0"})
	}
	return issues
}

func validateMetrics(m MetricsConfig) []Issue {
	var issues []Issue
	if _, ok := knownMetricsKinds[m.Backend]; !ok {
		issues = append(issues, Issue{SeverityError, "metrics.backend", fmt.Sprintf("unknown metrics backend %q", m.Backend)})
	}
	if m.Backend == "pushgateway" && strings.TrimSpace(m.PushgatewayURL) == "" {
		issues = append(issues, Issue{SeverityError, "metrics.pushgateway_url", "pushgateway backend requires a url"})
	}
	return issues
}
