package formula

import (
	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// exprEngine compiles formulas with github.com/expr-lang/expr.
type exprEngine struct{}

// NewExpr returns the expr engine.
func NewExpr() Engine { return exprEngine{} }

func (exprEngine) Name() string { return "expr" }

// Compile type-checks get calls; vars are left untyped.
func (exprEngine) Compile(source string, _ ...string) (Program, error) {
	if source == "" {
		return nil, emptySource("expr")
	}
	sample := map[string]any{
		"get": func(string) (any, error) { return nil, nil },
	}
	program, err := exprlang.Compile(source,
		exprlang.Env(sample),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, wrapEvaluationError("expr", source, err)
	}
	return &exprProgram{source: source, program: program}, nil
}

type exprProgram struct {
	source  string
	program *exprvm.Program
}

func (p *exprProgram) Eval(env Env) (any, error) {
	g := newGetter(env)
	vars := make(map[string]any, len(env.Vars)+1)
	for k, v := range env.Vars {
		vars[k] = v
	}
	vars["get"] = g.call
	v, err := exprlang.Run(p.program, vars)
	return g.result("expr", p.source, v, err)
}
