package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/stan/internal/errors"
	"github.com/vango-dev/stan/pkg/stan"
)

// Runner executes scenario steps against one registry.
type Runner struct {
	graph    *Graph
	registry *stan.Registry
	logger   *slog.Logger
	out      io.Writer

	// SettleTimeout bounds the settle op.
	SettleTimeout time.Duration

	mu       sync.Mutex
	unsubs   map[string]func()
	notified map[string]int

	// Listeners of async cells print from settle goroutines.
	outMu sync.Mutex
}

// NewRunner returns a runner for g on r. Step results are written to out
// when it is non-nil.
func NewRunner(g *Graph, r *stan.Registry, logger *slog.Logger, out io.Writer) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		graph:         g,
		registry:      r,
		logger:        logger,
		out:           out,
		SettleTimeout: 5 * time.Second,
		unsubs:        make(map[string]func()),
		notified:      make(map[string]int),
	}
}

// Run executes every step in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context) error {
	for i, step := range r.graph.scenario.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Step(ctx, step); err != nil {
			return errors.New("S014").
				WithDetail(fmt.Sprintf("Step %d (%s %s) failed.", i+1, step.Op, step.Cell)).
				Wrap(err)
		}
	}
	return nil
}

// Step executes a single step.
func (r *Runner) Step(ctx context.Context, step Step) error {
	r.logger.Debug("scenario step", "op", step.Op, "cell", step.Cell)
	switch step.Op {
	case OpGet:
		return r.get(step)
	case OpSet:
		return r.set(step)
	case OpSubscribe:
		return r.subscribe(step.Cell)
	case OpUnsubscribe:
		return r.unsubscribe(step.Cell)
	case OpSettle:
		return r.Settle(ctx)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (r *Runner) get(step Step) error {
	d, err := r.graph.Descriptor(step.Cell)
	if err != nil {
		return err
	}
	v, err := stan.Get(r.registry, d)
	if err != nil {
		r.printf("get %s: error: %v\n", step.Cell, err)
		return expectError(step, err)
	}
	r.printf("get %s = %s\n", step.Cell, encode(v))
	if step.ExpectError != "" {
		return fmt.Errorf("expected error containing %q, got value %s", step.ExpectError, encode(v))
	}
	if len(step.Expect) > 0 {
		if err := compare(step.Expect, v); err != nil {
			return err
		}
	}
	return r.checkNotified(step)
}

func (r *Runner) set(step Step) error {
	d, err := r.graph.Descriptor(step.Cell)
	if err != nil {
		return err
	}
	err = stan.Set(r.registry, d, step.Value)
	if err != nil {
		r.printf("set %s: error: %v\n", step.Cell, err)
		return expectError(step, err)
	}
	r.printf("set %s = %s\n", step.Cell, encode(step.Value))
	if step.ExpectError != "" {
		return fmt.Errorf("expected error containing %q", step.ExpectError)
	}
	return r.checkNotified(step)
}

func (r *Runner) subscribe(ref string) error {
	d, err := r.graph.Descriptor(ref)
	if err != nil {
		return err
	}
	r.mu.Lock()
	_, dup := r.unsubs[ref]
	r.mu.Unlock()
	if dup {
		return fmt.Errorf("%s is already subscribed", ref)
	}

	unsub, err := r.registry.Subscribe(d, func() {
		r.mu.Lock()
		r.notified[ref]++
		r.mu.Unlock()
		r.printf("notify %s\n", ref)
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.unsubs[ref] = unsub
	r.mu.Unlock()
	r.printf("subscribe %s\n", ref)
	return nil
}

func (r *Runner) unsubscribe(ref string) error {
	r.mu.Lock()
	unsub, ok := r.unsubs[ref]
	delete(r.unsubs, ref)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s is not subscribed", ref)
	}
	unsub()
	r.printf("unsubscribe %s\n", ref)
	return nil
}

// Settle waits until no state of the registry is resolving.
func (r *Runner) Settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.SettleTimeout)
	defer cancel()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !r.resolving() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("settle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Runner) resolving() bool {
	for _, info := range r.registry.Snapshot() {
		if info.Status == stan.StatusResolving.String() {
			return true
		}
	}
	return false
}

// Notified returns how many notifications ref has received.
func (r *Runner) Notified(ref string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notified[ref]
}

// Close removes every subscription made by the runner.
func (r *Runner) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = make(map[string]func())
	r.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (r *Runner) checkNotified(step Step) error {
	if step.Notified == nil {
		return nil
	}
	if got := r.Notified(step.Cell); got != *step.Notified {
		return fmt.Errorf("%s notified %d times, want %d", step.Cell, got, *step.Notified)
	}
	return nil
}

func (r *Runner) printf(format string, args ...any) {
	if r.out == nil {
		return
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func expectError(step Step, err error) error {
	if step.ExpectError == "" {
		return err
	}
	if !strings.Contains(err.Error(), step.ExpectError) {
		return fmt.Errorf("error %q does not contain %q", err.Error(), step.ExpectError)
	}
	return nil
}

// compare checks v against the JSON encoded want. Both sides are
// normalized through encoding/json so 3 and 3.0 match.
func compare(want json.RawMessage, v any) error {
	var w any
	if err := json.Unmarshal(want, &w); err != nil {
		return fmt.Errorf("invalid expect value: %w", err)
	}
	got := encode(v)
	if got != encode(w) {
		return fmt.Errorf("got %s, want %s", got, encode(w))
	}
	return nil
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
