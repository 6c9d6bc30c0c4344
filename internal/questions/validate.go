package questions

import (
	"errors"
	"fmt"
	"math"

	"github.com/ashureev/codecaptcha/internal/validator"
)

// maxSpan bounds every declared range so draws never overflow.
const maxSpan = math.MaxInt32

// Validate checks the structural rules a set must satisfy before any
// generation. All violations are reported together and wrap ErrInvalidSet.
func (s *Set) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(s.Construct) == 0 {
		add("construct list is empty")
	}
	if len(s.Base) == 0 {
		add("base list is empty")
	}

	for i, pattern := range s.Construct {
		bases := 0
		for _, tok := range tokenize(pattern) {
			if tok.kind != tokenPlaceholder {
				continue
			}
			switch tok.name {
			case PlaceholderConstruct:
				add("construct[%d]: nested {construct} is not allowed", i)
			case PlaceholderBase:
				bases++
			case PlaceholderPart:
				if len(s.Part) == 0 {
					add("construct[%d]: uses {part} but part list is empty", i)
				}
			case PlaceholderInit:
				if len(s.Init) == 0 {
					add("construct[%d]: uses {init} but init list is empty", i)
				}
			case PlaceholderCont:
				if len(s.Cont) == 0 {
					add("construct[%d]: uses {cont} but cont list is empty", i)
				}
			}
		}
		if bases != 1 {
			add("construct[%d]: must contain exactly one {base}, found %d", i, bases)
		}
	}

	for i, b := range s.Base {
		where := fmt.Sprintf("base[%d]", i)
		errs = append(errs, b.Fragment.check(where)...)
		switch {
		case b.Input == nil:
			add("%s: input range is missing", where)
		case b.Input.Span() < MinTasks || b.Input.Span() > maxSpan:
			add("%s: input range [%d, %d] must hold between %d and %d values", where, b.Input.Min, b.Input.Max, MinTasks, maxSpan)
		default:
			in := *b.Input
			errs = append(errs, b.Fragment.checkResults(where, []int{in.Min, in.Min + 1, in.Min + in.Span()/2, in.Max})...)
		}
	}
	for i, p := range s.Part {
		where := fmt.Sprintf("part[%d]", i)
		errs = append(errs, p.check(where)...)
		errs = append(errs, p.checkResults(where, partSamples)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSet, errors.Join(errs...))
	}
	return nil
}

func (f Fragment) check(where string) []error {
	var errs []error
	for _, name := range placeholderNames(f.Question) {
		if isReserved(name) {
			errs = append(errs, fmt.Errorf("%s: reserved placeholder {%s} inside fragment", where, name))
		}
	}
	for name, r := range f.Range {
		if r.Span() > maxSpan || r.Span() <= 0 {
			errs = append(errs, fmt.Errorf("%s: range %q is too wide", where, name))
		}
	}

	bindings := make(map[string]int)
	for _, name := range f.bindingNames() {
		bindings[name] = 0
	}
	if _, err := validator.Compile(substitute(f.Validator, bindings), bindings); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", where, err))
	}
	return errs
}

// partSamples stand in for the unknown values a part receives from the chain.
var partSamples = []int{-1, 0, 1, 2, 3}

// checkResults evaluates the validator on sample inputs, with every binding
// at the low and then the high end of its range, and reports results that
// are not integers. Domain errors such as factorial(200) depend on the draw
// and are left to the generator's fallback.
func (f Fragment) checkResults(where string, inputs []int) []error {
	names := f.bindingNames()
	for _, high := range []bool{false, true} {
		bindings := make(map[string]int, len(names))
		for _, name := range names {
			r, ok := f.Range[name]
			if !ok {
				r = DefaultRange
			}
			if r.Span() <= 0 {
				return nil
			}
			bindings[name] = r.Min
			if high {
				bindings[name] = r.Max
			}
		}
		e, err := validator.Compile(substitute(f.Validator, bindings), bindings)
		if err != nil {
			return nil
		}
		for _, in := range inputs {
			if _, err := e.Eval(in); errors.Is(err, validator.ErrNotInteger) {
				return []error{fmt.Errorf("%s: %w", where, err)}
			}
		}
	}
	return nil
}
