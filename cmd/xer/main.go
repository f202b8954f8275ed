// Command xer loads an exchange file against a schema definition, prints a
// per-table summary with the error log, and optionally rewrites the file
// and exports the loaded tables into a SQL database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"xer/internal/config"
	"xer/internal/logging"
	"xer/internal/metrics"
	"xer/internal/metrics/datadog"
	"xer/internal/metrics/prompush"

	"github.com/joho/godotenv"

	// register every export backend with the storage factory.
	_ "xer/internal/storage/all"
)

type flags struct {
	cfgPath  string
	envFile  string
	out      string
	validate bool
	logLevel string
	logFmt   string

	schema         string
	in             string
	ignore         string
	load           string
	strict         bool
	exportKind     string
	exportDSN      string
	metricsBackend string
	pushgatewayURL string
	statsdAddr     string
}

func parseFlags(fs *flag.FlagSet, args []string) (flags, map[string]bool, error) {
	var f flags
	fs.StringVar(&f.cfgPath, "config", "", "configuration JSON path (optional)")
	fs.StringVar(&f.envFile, "env", ".env", "dotenv file with XER_* overrides; missing file is ignored")
	fs.StringVar(&f.out, "out", "", "rewrite the loaded model to this path")
	fs.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&f.logFmt, "log-format", "text", "text|json")

	fs.StringVar(&f.schema, "schema", "", "schema definition JSON path")
	fs.StringVar(&f.in, "in", "", "input: path, file://, http(s):// or s3://bucket/key")
	fs.StringVar(&f.ignore, "ignore", "", "comma-separated tables to ignore")
	fs.StringVar(&f.load, "load", "", "comma-separated tables to load; every other table is ignored")
	fs.BoolVar(&f.strict, "strict", false, "drop a row on its first conversion failure")
	fs.StringVar(&f.exportKind, "export-kind", "", "export backend: sqlite|postgres|mssql|mysql")
	fs.StringVar(&f.exportDSN, "export-dsn", "", "export database DSN")
	fs.StringVar(&f.metricsBackend, "metrics-backend", "", "none|pushgateway|datadog")
	fs.StringVar(&f.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL")
	fs.StringVar(&f.statsdAddr, "statsd-addr", "", "DogStatsD address")

	if err := fs.Parse(args); err != nil {
		return f, nil, err
	}
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// buildConfig layers the configuration: file, then XER_* variables, then
// flags that were set explicitly.
func buildConfig(f flags, set map[string]bool, getenv func(string) string) (config.Config, error) {
	var cfg config.Config
	if f.cfgPath != "" {
		c, err := config.Load(f.cfgPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if err := config.ApplyEnv(&cfg, getenv); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}

	str := func(name, v string, dst *string) {
		if set[name] {
			*dst = v
		}
	}
	str("schema", f.schema, &cfg.Schema.Path)
	str("in", f.in, &cfg.Source.URI)
	str("export-kind", f.exportKind, &cfg.Export.Kind)
	str("export-dsn", f.exportDSN, &cfg.Export.DSN)
	str("metrics-backend", f.metricsBackend, &cfg.Metrics.Backend)
	str("pushgateway-url", f.pushgatewayURL, &cfg.Metrics.PushgatewayURL)
	str("statsd-addr", f.statsdAddr, &cfg.Metrics.StatsdAddr)
	if set["ignore"] {
		cfg.Load.IgnoredTables = config.SplitList(f.ignore)
	}
	if set["load"] {
		cfg.Load.LoadedTables = config.SplitList(f.load)
	}
	if set["strict"] {
		cfg.Load.Strict = f.strict
	}
	return cfg, nil
}

// setupMetrics installs the configured backend and returns its flush.
func setupMetrics(mc config.MetricsConfig, job string) (func(), error) {
	nop := func() {}
	switch mc.Backend {
	case "", "none":
		return nop, nil
	case "pushgateway":
		b, err := prompush.NewBackend(job, mc.PushgatewayURL)
		if err != nil {
			return nop, err
		}
		metrics.SetBackend(b)
	case "datadog":
		b, err := datadog.NewBackend(datadog.ForJob(job, mc.StatsdAddr))
		if err != nil {
			return nop, err
		}
		metrics.SetBackend(b)
	default:
		return nop, fmt.Errorf("unknown metrics backend %q", mc.Backend)
	}
	slog.Info("metrics enabled", "backend", mc.Backend, "job", job)
	return func() {
		if err := metrics.Flush(); err != nil {
			slog.Warn("metrics flush failed", "err", err)
		}
	}, nil
}

func main() {
	f, set, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	logging.Setup(f.logLevel, f.logFmt)

	if err := godotenv.Load(f.envFile); err != nil && !os.IsNotExist(err) {
		fatalf("load %s: %v", f.envFile, err)
	}

	cfg, err := buildConfig(f, set, os.Getenv)
	if err != nil {
		fatalf("%v", err)
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fatalf("configuration is invalid")
	}
	if f.validate {
		slog.Info("configuration is valid")
		return
	}
	if cfg.Job == "" {
		cfg.Job = "xer"
	}

	flush, err := setupMetrics(cfg.Metrics, cfg.Job)
	if err != nil {
		slog.Warn("metrics disabled", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, f.out, os.Stdout)
	stop()
	flush()
	if err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
