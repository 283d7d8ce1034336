package formula

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// jsEngine compiles formulas with github.com/dop251/goja. The source is a
// single JavaScript expression.
type jsEngine struct{}

// NewJS returns the js engine.
func NewJS() Engine { return jsEngine{} }

func (jsEngine) Name() string { return "js" }

func (jsEngine) Compile(source string, _ ...string) (Program, error) {
	if source == "" {
		return nil, emptySource("js")
	}
	program, err := goja.Compile("", wrapExpression(source), false)
	if err != nil {
		return nil, wrapEvaluationError("js", source, err)
	}
	return &jsProgram{source: source, program: program}, nil
}

func wrapExpression(source string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", source)
}

type jsProgram struct {
	source  string
	program *goja.Program
}

func (p *jsProgram) Eval(env Env) (any, error) {
	g := newGetter(env)
	vm := goja.New()
	vm.Set("get", g.call)
	for k, v := range env.Vars {
		vm.Set(k, v)
	}

	stop := context.AfterFunc(env.context(), func() {
		vm.Interrupt(context.Cause(env.context()))
	})
	defer stop()

	value, err := vm.RunProgram(p.program)
	if err != nil {
		return g.result("js", p.source, nil, err)
	}
	return g.result("js", p.source, value.Export(), nil)
}
