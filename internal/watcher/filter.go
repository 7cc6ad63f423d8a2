package watcher

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/o2r-project/o2r-finder/pkg/model"
)

// Filter decides whether a raw record belongs in the index.
type Filter struct {
	expr    string
	program cel.Program
}

var filterEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("watcher: cel environment: %v", err))
	}
	filterEnv = env
}

// NewFilter compiles a boolean CEL expression over the variable `record`.
func NewFilter(expr string) (*Filter, error) {
	ast, issues := filterEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter %q must evaluate to bool, got %s", expr, t)
	}
	prg, err := filterEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Filter{expr: expr, program: prg}, nil
}

// Match evaluates the filter. A nil filter matches everything.
func (f *Filter) Match(record model.Document) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.program.Eval(map[string]any{"record": map[string]any(record)})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", f.expr, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, not bool", f.expr, out.Value())
	}
	return matched, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}
