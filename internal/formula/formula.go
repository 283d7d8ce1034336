// Package formula compiles small expressions used to define derived cells
// in scenarios. Three engines are available: expr (the default), cel and
// js. A formula reads other cells with get("name"); every such call is a
// tracked dependency read.
package formula

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Engine compiles formula source into programs.
type Engine interface {
	// Name returns the engine name used in scenario files.
	Name() string

	// Compile checks source and returns a reusable program. vars names the
	// extra variables the program will be given, such as a family key.
	Compile(source string, vars ...string) (Program, error)
}

// Program is a compiled formula. It is safe for concurrent use.
type Program interface {
	Eval(env Env) (any, error)
}

// Env is the evaluation environment of one program run.
type Env struct {
	// Context bounds the evaluation. Engines that support interruption
	// stop when it is done. Default: context.Background().
	Context context.Context

	// Get reads a named cell.
	Get func(name string) (any, error)

	// Vars are extra variables, such as the key of a family member.
	Vars map[string]any
}

func (e Env) context() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	return e.Context
}

// getter wraps env.Get so the first failure can be returned unchanged after
// an engine has converted it into its own error type.
type getter struct {
	get func(name string) (any, error)
	err error
}

func newGetter(env Env) *getter {
	return &getter{get: env.Get}
}

func (g *getter) call(name string) (any, error) {
	if g.get == nil {
		return nil, fmt.Errorf("formula: get(%q): no cells available", name)
	}
	v, err := g.get(name)
	if err != nil && g.err == nil {
		g.err = err
	}
	return v, err
}

// result prefers the error of a failed get over the engine's own error.
func (g *getter) result(engine, source string, v any, err error) (any, error) {
	if g.err != nil {
		return nil, g.err
	}
	if err != nil {
		return nil, wrapEvaluationError(engine, source, err)
	}
	return v, nil
}

// ErrUnknownEngine is returned by New for an unsupported engine name.
var ErrUnknownEngine = errors.New("formula: unknown engine")

// Default is the engine used when a scenario does not name one.
const Default = "expr"

var engines = map[string]func() Engine{
	"expr": func() Engine { return NewExpr() },
	"cel":  func() Engine { return NewCEL() },
	"js":   func() Engine { return NewJS() },
}

// New returns the engine called name. An empty name selects Default.
func New(name string) (Engine, error) {
	if name == "" {
		name = Default
	}
	ctor, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownEngine, name, Names())
	}
	return ctor(), nil
}

// Names returns the supported engine names, sorted.
func Names() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EvaluationError captures the engine and source alongside the originating
// error.
type EvaluationError struct {
	Engine string
	Source string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("formula: %s %q: %v", e.Engine, e.Source, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func wrapEvaluationError(engine, source string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}
	return &EvaluationError{Engine: engine, Source: source, Err: err}
}

func emptySource(engine string) error {
	return &EvaluationError{Engine: engine, Err: errors.New("formula must not be empty")}
}
