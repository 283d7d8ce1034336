package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/stan/internal/errors"
	"github.com/vango-dev/stan/internal/scenario"
)

func evalCmd(opts *globalOptions) *cobra.Command {
	var settleTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "eval <scenario.json>",
		Short: "Run the steps of a scenario",
		Long: `Build the atom graph of a scenario and run its steps in order.

Every step is printed with its result. Listener notifications of
subscribed cells are printed as they fire. The command fails at the
first step whose expectation does not hold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEval(ctx, cmd, opts, args[0], settleTimeout)
		},
	}

	cmd.Flags().DurationVar(&settleTimeout, "settle-timeout", 5*time.Second, "Maximum time a settle step waits")

	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, opts *globalOptions, path string, settleTimeout time.Duration) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	s, err := scenario.Load(path)
	if err != nil {
		return err
	}
	g, err := s.Build(scenario.WithDefaultEngine(cfg.Formula.Engine))
	if err != nil {
		return err
	}

	r := newRegistry(cfg, logger, nil)
	defer r.Close()

	out := cmd.OutOrStdout()
	runner := scenario.NewRunner(g, r, logger, out)
	runner.SettleTimeout = settleTimeout
	defer runner.Close()

	start := time.Now()
	if err := runner.Run(ctx); err != nil {
		return errors.FromStan(err)
	}
	name := s.Name
	if name == "" {
		name = path
	}
	success(out, "%s: %d steps passed in %s", name, len(s.Steps), time.Since(start).Round(time.Millisecond))
	return nil
}
