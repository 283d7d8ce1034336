package formula

import (
	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// celEngine compiles formulas with github.com/google/cel-go. CEL is
// strictly typed at runtime: numbers read from JSON are doubles and do not
// mix with integer literals.
type celEngine struct{}

// NewCEL returns the cel engine.
func NewCEL() Engine { return celEngine{} }

func (celEngine) Name() string { return "cel" }

func (celEngine) Compile(source string, vars ...string) (Program, error) {
	if source == "" {
		return nil, emptySource("cel")
	}
	env, err := celEnv(nil, vars)
	if err != nil {
		return nil, wrapEvaluationError("cel", source, err)
	}
	ast, issues := env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError("cel", source, issues.Err())
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError("cel", source, issues.Err())
	}
	return &celProgram{source: source, ast: checked, vars: vars}, nil
}

// celEnv declares get and vars. The get binding is fixed per environment,
// so programs build a fresh one for each evaluation.
func celEnv(g *getter, vars []string) (*celgo.Env, error) {
	binding := func(arg ref.Val) ref.Val {
		name, ok := arg.Value().(string)
		if !ok {
			return types.NewErr("get: name must be a string")
		}
		if g == nil {
			return types.NullValue
		}
		v, err := g.call(name)
		if err != nil {
			return types.NewErr("get(%q): %v", name, err)
		}
		if v == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(v)
	}
	opts := []celgo.EnvOption{
		celgo.Function("get", celgo.Overload("get_string",
			[]*celgo.Type{celgo.StringType},
			celgo.DynType,
			celgo.UnaryBinding(binding),
		)),
	}
	for _, v := range vars {
		opts = append(opts, celgo.Variable(v, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

type celProgram struct {
	source string
	ast    *celgo.Ast
	vars   []string
}

func (p *celProgram) Eval(env Env) (any, error) {
	g := newGetter(env)
	cenv, err := celEnv(g, p.vars)
	if err != nil {
		return nil, wrapEvaluationError("cel", p.source, err)
	}
	prg, err := cenv.Program(p.ast)
	if err != nil {
		return nil, wrapEvaluationError("cel", p.source, err)
	}
	activation := make(map[string]any, len(p.vars))
	for _, name := range p.vars {
		activation[name] = env.Vars[name]
	}
	out, _, err := prg.ContextEval(env.context(), activation)
	if err != nil {
		return g.result("cel", p.source, nil, err)
	}
	return g.result("cel", p.source, out.Value(), nil)
}
