package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/vango-dev/stan/internal/errors"
	"github.com/vango-dev/stan/internal/formula"
	"github.com/vango-dev/stan/pkg/stan"
)

// Graph holds the descriptors built from a scenario. Descriptors are
// registry independent; one Graph can be used with several registries.
type Graph struct {
	scenario *Scenario
	cells    map[string]stan.Readable[any]
	families map[string]func(key string) *stan.Keyed[any]
	kinds    map[string]stan.Kind
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	engine string
}

// WithDefaultEngine sets the engine for scenarios that do not name one.
func WithDefaultEngine(name string) BuildOption {
	return func(c *buildConfig) {
		c.engine = name
	}
}

// Build compiles every formula and creates the descriptors.
func (s *Scenario) Build(opts ...BuildOption) (*Graph, error) {
	cfg := buildConfig{engine: formula.Default}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Graph{
		scenario: s,
		cells:    make(map[string]stan.Readable[any]),
		families: make(map[string]func(string) *stan.Keyed[any]),
		kinds:    make(map[string]stan.Kind),
	}

	for _, name := range sortedKeys(s.Atoms) {
		g.cells[name] = stan.NewAtom[any](s.Atoms[name], stan.WithDebugID(name))
		g.kinds[name] = stan.KindAtom
	}

	for _, name := range sortedKeys(s.Derived) {
		c, err := g.compile(name, s.Derived[name], cfg.engine, "value")
		if err != nil {
			return nil, err
		}
		g.cells[name] = stan.NewDerived(g.resolver(c, nil), g.updater(c, nil), c.options(name)...)
		g.kinds[name] = stan.KindDerived
	}

	for _, name := range sortedKeys(s.Families) {
		c, err := g.compile(name, s.Families[name], cfg.engine, "key", "value")
		if err != nil {
			return nil, err
		}
		var updater func(string) stan.Updater[any]
		if len(c.set) > 0 {
			updater = func(key string) stan.Updater[any] {
				return g.updater(c, map[string]any{"key": key})
			}
		}
		g.families[name] = stan.NewFamily(func(key string) stan.Resolver[any] {
			return g.resolver(c, map[string]any{"key": key})
		}, updater, c.options(name)...)
		g.kinds[name] = stan.KindFamily
	}
	return g, nil
}

// compiled is a cell with its programs.
type compiled struct {
	cell    Cell
	program formula.Program
	set     map[string]formula.Program
}

func (c *compiled) options(name string) []stan.Option {
	opts := []stan.Option{stan.WithDebugID(name)}
	if c.cell.Async {
		opts = append(opts, stan.Async())
	}
	return opts
}

func (g *Graph) compile(name string, cell Cell, fallback string, vars ...string) (*compiled, error) {
	engineName := g.scenario.engineFor(cell)
	if engineName == "" {
		engineName = fallback
	}
	engine, err := formula.New(engineName)
	if err != nil {
		return nil, errors.New("S013").Wrap(err)
	}

	c := &compiled{cell: cell}
	c.program, err = engine.Compile(cell.Formula, vars...)
	if err != nil {
		return nil, errors.New("S013").
			WithDetail(fmt.Sprintf("The formula of %q failed to compile.", name)).
			Wrap(err)
	}
	if len(cell.Set) > 0 {
		c.set = make(map[string]formula.Program, len(cell.Set))
		for target, src := range cell.Set {
			prg, err := engine.Compile(src, vars...)
			if err != nil {
				return nil, errors.New("S013").
					WithDetail(fmt.Sprintf("The formula writing %q from %q failed to compile.", target, name)).
					Wrap(err)
			}
			c.set[target] = prg
		}
	}
	return c, nil
}

func (g *Graph) resolver(c *compiled, vars map[string]any) stan.Resolver[any] {
	delay := time.Duration(c.cell.DelayMS) * time.Millisecond
	return func(ctx *stan.Context) (any, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Context().Done():
				return nil, ctx.Context().Err()
			}
		}
		return c.program.Eval(formula.Env{
			Context: ctx.Context(),
			Get:     g.reader(ctx),
			Vars:    vars,
		})
	}
}

func (g *Graph) updater(c *compiled, vars map[string]any) stan.Updater[any] {
	if len(c.set) == 0 {
		return nil
	}
	return func(ctx *stan.Context, value any) error {
		env := map[string]any{"value": value}
		for k, v := range vars {
			env[k] = v
		}
		for _, target := range sortedKeys(c.set) {
			v, err := c.set[target].Eval(formula.Env{
				Context: ctx.Context(),
				Get:     g.reader(ctx),
				Vars:    env,
			})
			if err != nil {
				return err
			}
			d, err := g.Descriptor(target)
			if err != nil {
				return err
			}
			if err := stan.Write(ctx, d, v); err != nil {
				return err
			}
		}
		return nil
	}
}

// reader returns the get function of formulas evaluated with ctx.
func (g *Graph) reader(ctx *stan.Context) func(string) (any, error) {
	return func(ref string) (any, error) {
		d, err := g.Descriptor(ref)
		if err != nil {
			return nil, err
		}
		return stan.Read(ctx, d)
	}
}

// Descriptor returns the descriptor of ref, either a cell name or
// "family/key".
func (g *Graph) Descriptor(ref string) (stan.Readable[any], error) {
	name, key, keyed := strings.Cut(ref, "/")
	if keyed {
		family, ok := g.families[name]
		if !ok {
			return nil, unknownCell(ref)
		}
		return family(key), nil
	}
	if d, ok := g.cells[name]; ok {
		return d, nil
	}
	if _, ok := g.families[name]; ok {
		return nil, errors.New("S012").
			WithDetail(fmt.Sprintf("%q is a family; address a member as %q.", name, name+"/<key>"))
	}
	return nil, unknownCell(ref)
}

func unknownCell(ref string) error {
	return errors.New("S012").
		WithDetail(fmt.Sprintf("No cell named %q.", ref))
}

// Names returns the names of every atom, derived cell and family, sorted.
func (g *Graph) Names() []string {
	return sortedKeys(g.kinds)
}

// Kind returns the kind of the named cell or family.
func (g *Graph) Kind(name string) (stan.Kind, bool) {
	k, ok := g.kinds[name]
	return k, ok
}

// Scenario returns the scenario the graph was built from.
func (g *Graph) Scenario() *Scenario { return g.scenario }
