package engine

import (
	"log/slog"

	"xer/internal/config"
	"xer/internal/schema"
	"xer/internal/value"
)

// FromConfig builds an engine from the load section of a configuration.
// The ignore list is applied before the loaded list, so a table named in
// both is loaded.
func FromConfig(def *schema.Definition, job string, lc config.LoadConfig, logger *slog.Logger) (*Engine, error) {
	sep, err := value.ParseSeparator(lc.DecimalSeparator)
	if err != nil {
		return nil, err
	}
	derived := make([]DerivedColumn, 0, len(lc.DerivedColumns))
	for _, d := range lc.DerivedColumns {
		derived = append(derived, DerivedColumn{
			Table: d.Table,
			Column: schema.Column{
				Name:     d.Column.Name,
				Type:     d.Column.Type,
				Kind:     schema.Derived,
				Excluded: d.Column.Excluded,
				Derived:  d.Column.Derived,
			},
		})
	}
	e, err := New(def, value.Registry{Separator: sep}, Options{
		Job:                  job,
		Encoding:             lc.Encoding,
		Strict:               lc.Strict,
		QueueSize:            lc.ChannelBuffer,
		CreateDerivedColumns: lc.CreateDerivedColumns,
		DerivedColumns:       derived,
		Logger:               logger,
	})
	if err != nil {
		return nil, err
	}
	if lc.ResetDefaultIgnored {
		e.ClearIgnoredTables()
	}
	e.SetIgnoredTables(lc.IgnoredTables...)
	e.SetLoadedTables(lc.LoadedTables...)
	return e, nil
}
