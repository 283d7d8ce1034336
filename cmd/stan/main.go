package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vango-dev/stan/internal/config"
	"github.com/vango-dev/stan/internal/errors"
	"github.com/vango-dev/stan/pkg/instrument"
	"github.com/vango-dev/stan/pkg/stan"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	engine     string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "stan",
		Short: "Evaluate and inspect atom graphs",
		Long: `stan builds atom graphs from JSON scenarios.

A scenario declares atoms, derived cells and families defined by
formulas, and a list of steps. stan eval runs the steps; stan serve
keeps the graph alive and exposes it over HTTP with Prometheus metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to stan.json (default: search from the working directory)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVarP(&opts.engine, "engine", "e", "", "Formula engine for scenarios that do not name one")

	rootCmd.AddCommand(
		evalCmd(opts),
		serveCmd(opts),
		versionCmd(),
	)
	return rootCmd
}

// load reads the configuration and applies flag overrides.
func (o *globalOptions) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.LoadFromWorkingDir()
	}
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.engine != "" {
		cfg.Formula.Engine = o.engine
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the slog logger described by cfg, writing to w.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// newRegistry creates a registry with the hooks enabled by cfg. Metrics
// are registered with promReg when it is non-nil.
func newRegistry(cfg *config.Config, logger *slog.Logger, promReg prometheus.Registerer) *stan.Registry {
	var hooks []stan.Hooks
	if promReg != nil && cfg.MetricsEnabled() {
		hooks = append(hooks, instrument.Prometheus(
			instrument.WithNamespace(cfg.Metrics.Namespace),
			instrument.WithRegistry(promReg),
		))
	}
	if cfg.Tracing.Enabled {
		hooks = append(hooks, instrument.OpenTelemetry(
			instrument.WithTracerName(cfg.Tracing.TracerName),
		))
	}
	return stan.NewRegistry(
		stan.WithLogger(logger),
		stan.WithHooks(hooks...),
	)
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}
