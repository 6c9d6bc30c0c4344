// Package validator evaluates operator-authored validator expressions.
//
// A validator has the form `name(param) = body`, for example `f(x)=y+x`.
// The body is compiled against a closed environment: the parameter, the
// placeholder bindings resolved for the current question, and the helper
// table in functions.go. All expr builtins are disabled.
package validator

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	// ErrMalformed reports a validator that cannot be compiled.
	ErrMalformed = errors.New("malformed validator")
	// ErrEvaluation reports a validator that failed for a concrete input.
	ErrEvaluation = errors.New("validator evaluation failed")
	// ErrNotInteger reports a result that is not an integer, such as 3 / 2
	// or a boolean. It is always wrapped in ErrEvaluation.
	ErrNotInteger = errors.New("result is not an integer")
)

var definitionPattern = regexp.MustCompile(`(?s)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*\(\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)\s*=\s*(.*\S)\s*$`)

// Expression is a compiled validator. It is immutable and safe for concurrent use.
type Expression struct {
	source  string
	name    string
	param   string
	program *vm.Program
	env     map[string]any
}

// Compile parses source and type-checks its body against bindings.
func Compile(source string, bindings map[string]int) (*Expression, error) {
	m := definitionPattern.FindStringSubmatch(source)
	if m == nil {
		return nil, fmt.Errorf("%w: %q does not define a single function of one argument", ErrMalformed, source)
	}
	name, param, body := m[1], m[2], m[3]

	env := functions()
	if _, reserved := env[param]; reserved {
		return nil, fmt.Errorf("%w: parameter %q shadows a helper function", ErrMalformed, param)
	}
	for k, v := range bindings {
		if _, reserved := env[k]; reserved {
			return nil, fmt.Errorf("%w: binding %q shadows a helper function", ErrMalformed, k)
		}
		if k == param {
			return nil, fmt.Errorf("%w: binding %q collides with the parameter", ErrMalformed, k)
		}
		env[k] = v
	}
	env[param] = 0

	program, err := expr.Compile(body, expr.Env(env), expr.DisableAllBuiltins())
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %w", ErrMalformed, source, err)
	}
	delete(env, param)

	return &Expression{
		source:  source,
		name:    name,
		param:   param,
		program: program,
		env:     env,
	}, nil
}

// Source returns the expression text as authored.
func (e *Expression) Source() string {
	return e.source
}

// Eval applies the validator to input.
func (e *Expression) Eval(input int) (result int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s(%d): %v", ErrEvaluation, e.name, input, r)
		}
	}()

	env := make(map[string]any, len(e.env)+1)
	for k, v := range e.env {
		env[k] = v
	}
	env[e.param] = input

	out, err := expr.Run(e.program, env)
	if err != nil {
		return 0, fmt.Errorf("%w: %s(%d): %w", ErrEvaluation, e.name, input, err)
	}
	n, err := toInt(out)
	if err != nil {
		return 0, fmt.Errorf("%w: %s(%d): %w", ErrEvaluation, e.name, input, err)
	}
	return n, nil
}

// Evaluate compiles source and applies it to input in one step.
func Evaluate(source string, input int, bindings map[string]int) (int, error) {
	e, err := Compile(source, bindings)
	if err != nil {
		return 0, err
	}
	return e.Eval(input)
}

// Chain applies validators in order, feeding each result into the next.
type Chain []*Expression

// Apply returns validator_n(...validator_1(input)).
func (c Chain) Apply(input int) (int, error) {
	v := input
	for _, e := range c {
		var err error
		if v, err = e.Eval(v); err != nil {
			return 0, err
		}
	}
	return v, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v", ErrNotInteger, n)
		}
		if n > math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("result %v overflows int", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %v (%T)", ErrNotInteger, v, v)
	}
}
