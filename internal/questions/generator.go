package questions

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/codecaptcha/internal/domain"
	"github.com/ashureev/codecaptcha/internal/validator"
)

// Every generated question has between MinTasks and MaxTasks distinct tasks.
const (
	MinTasks = 5
	MaxTasks = 12
)

// DefaultRange is used for placeholders a fragment does not declare.
var DefaultRange = Range{Min: -1000, Max: 1000}

// FallbackQuestion is served when generation fails for any reason.
const FallbackQuestion = "Write a function `calc(x: int) -> int` that returns its input unchanged."

var fallbackTasks = []int{2, 3, 5, 7, 11}

// Generator expands a Set into questions. It holds no mutable state and is
// safe for concurrent use.
type Generator struct {
	set    *Set
	logger *slog.Logger
}

// NewGenerator returns a generator over a validated set.
func NewGenerator(set *Set, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{set: set, logger: logger}
}

// Generate produces a question from a random seed.
func (g *Generator) Generate() domain.GeneratedQuestion {
	return g.GenerateWithSeed(rand.Uint64())
}

// GenerateWithSeed produces the question determined by seed. Identical
// seeds over the same set yield identical questions. It never fails: any
// internal error is logged and the fallback question is returned instead.
func (g *Generator) GenerateWithSeed(seed uint64) domain.GeneratedQuestion {
	q, _, err := g.run(seed)
	if err != nil {
		g.logger.Error("question generation failed, serving fallback",
			"issue_id", uuid.NewString(),
			"seed", seed,
			"error", err,
		)
		return Fallback()
	}
	return q
}

// Fallback returns the pass-through question.
func Fallback() domain.GeneratedQuestion {
	return domain.GeneratedQuestion{
		Question:  FallbackQuestion,
		Tasks:     slices.Clone(fallbackTasks),
		Solutions: slices.Clone(fallbackTasks),
		Fallback:  true,
	}
}

// ChainForSeed returns the validator chain GenerateWithSeed builds for seed.
// Unlike GenerateWithSeed it reports failures instead of falling back.
func (g *Generator) ChainForSeed(seed uint64) (validator.Chain, error) {
	_, chain, err := g.run(seed)
	return chain, err
}

// run is generate with panics turned into errors.
func (g *Generator) run(seed uint64) (q domain.GeneratedQuestion, chain validator.Chain, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	return g.generate(seed)
}

func (g *Generator) generate(seed uint64) (domain.GeneratedQuestion, validator.Chain, error) {
	if g.set == nil || len(g.set.Construct) == 0 {
		return domain.GeneratedQuestion{}, nil, fmt.Errorf("%w: no construct patterns", ErrInvalidSet)
	}

	d := &draw{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		values: make(map[string]int),
	}
	pattern := g.set.Construct[d.rng.IntN(len(g.set.Construct))]

	segments, err := d.expand(g.set, pattern)
	if err != nil {
		return domain.GeneratedQuestion{}, nil, err
	}
	text, chain, input, err := assemble(segments)
	if err != nil {
		return domain.GeneratedQuestion{}, nil, err
	}
	if input.Span() <= 0 {
		return domain.GeneratedQuestion{}, nil, fmt.Errorf("%w: input range [%d, %d] is empty", ErrInvalidSet, input.Min, input.Max)
	}

	k := MinTasks + d.rng.IntN(MaxTasks-MinTasks+1)
	tasks := drawTasks(d.rng, input, k)
	solutions := make([]int, len(tasks))
	for i, task := range tasks {
		if solutions[i], err = chain.Apply(task); err != nil {
			return domain.GeneratedQuestion{}, nil, err
		}
	}

	return domain.GeneratedQuestion{
		Question:  text,
		Tasks:     tasks,
		Solutions: solutions,
	}, chain, nil
}

// draw carries the per-generation random source and placeholder memo.
type draw struct {
	rng    *rand.Rand
	values map[string]int
}

// value resolves name once per generation, drawing from ranges when declared.
func (d *draw) value(name string, ranges map[string]Range) (int, error) {
	if v, ok := d.values[name]; ok {
		return v, nil
	}
	r, ok := ranges[name]
	if !ok {
		r = DefaultRange
	}
	if r.Span() <= 0 {
		return 0, fmt.Errorf("%w: range %q [%d, %d] is empty", ErrInvalidSet, name, r.Min, r.Max)
	}
	v := r.Min + d.rng.IntN(r.Span())
	d.values[name] = v
	return v, nil
}

func (d *draw) bind(f Fragment) (map[string]int, error) {
	bindings := make(map[string]int)
	for _, name := range f.bindingNames() {
		v, err := d.value(name, f.Range)
		if err != nil {
			return nil, err
		}
		bindings[name] = v
	}
	return bindings, nil
}

type segmentKind int

const (
	segmentText segmentKind = iota
	segmentBase
	segmentPart
)

type segment struct {
	kind      segmentKind
	text      string
	validator *validator.Expression
	input     Range
}

// expand resolves every reserved placeholder of a construct pattern.
// Unknown placeholders are kept verbatim.
func (d *draw) expand(set *Set, pattern string) ([]segment, error) {
	var out []segment
	for _, tok := range tokenize(pattern) {
		if tok.kind == tokenText {
			out = append(out, segment{kind: segmentText, text: tok.text})
			continue
		}
		switch tok.name {
		case PlaceholderConstruct:
			return nil, fmt.Errorf("%w: nested {construct} in %q", ErrInvalidSet, pattern)
		case PlaceholderBase:
			if len(set.Base) == 0 {
				return nil, fmt.Errorf("%w: base list is empty", ErrInvalidSet)
			}
			b := set.Base[d.rng.IntN(len(set.Base))]
			if b.Input == nil {
				return nil, fmt.Errorf("%w: base %q has no input range", ErrInvalidSet, b.Question)
			}
			seg, err := d.fill(b.Fragment, segmentBase)
			if err != nil {
				return nil, err
			}
			seg.input = *b.Input
			out = append(out, seg)
		case PlaceholderPart:
			if len(set.Part) == 0 {
				return nil, fmt.Errorf("%w: part list is empty", ErrInvalidSet)
			}
			seg, err := d.fill(set.Part[d.rng.IntN(len(set.Part))], segmentPart)
			if err != nil {
				return nil, err
			}
			out = append(out, seg)
		case PlaceholderInit:
			phrase, err := d.phrase(set.Init, tok.name)
			if err != nil {
				return nil, err
			}
			out = append(out, segment{kind: segmentText, text: phrase})
		case PlaceholderCont:
			phrase, err := d.phrase(set.Cont, tok.name)
			if err != nil {
				return nil, err
			}
			out = append(out, segment{kind: segmentText, text: phrase})
		default:
			out = append(out, segment{kind: segmentText, text: tok.text})
		}
	}
	return out, nil
}

func (d *draw) phrase(list []string, name string) (string, error) {
	if len(list) == 0 {
		return "", fmt.Errorf("%w: %s list is empty", ErrInvalidSet, name)
	}
	return list[d.rng.IntN(len(list))], nil
}

func (d *draw) fill(f Fragment, kind segmentKind) (segment, error) {
	bindings, err := d.bind(f)
	if err != nil {
		return segment{}, err
	}

	var b strings.Builder
	for _, tok := range tokenize(f.Question) {
		if v, ok := bindings[tok.name]; ok && tok.kind == tokenPlaceholder {
			b.WriteString(strconv.Itoa(v))
			continue
		}
		b.WriteString(tok.text)
	}

	expression, err := validator.Compile(substitute(f.Validator, bindings), bindings)
	if err != nil {
		return segment{}, err
	}
	return segment{kind: kind, text: b.String(), validator: expression}, nil
}

// assemble joins segment text and builds the validator chain: the base
// validator first, then parts in order of appearance.
func assemble(segments []segment) (string, validator.Chain, Range, error) {
	var (
		text  strings.Builder
		base  *validator.Expression
		parts validator.Chain
		input Range
	)
	for _, seg := range segments {
		text.WriteString(seg.text)
		switch seg.kind {
		case segmentBase:
			if base != nil {
				return "", nil, Range{}, errors.New("construct expanded to more than one base")
			}
			base = seg.validator
			input = seg.input
		case segmentPart:
			parts = append(parts, seg.validator)
		}
	}
	if base == nil {
		return "", nil, Range{}, fmt.Errorf("%w: construct has no base", ErrInvalidSet)
	}
	return text.String(), append(validator.Chain{base}, parts...), input, nil
}

// drawTasks returns up to k distinct values from r in draw order.
func drawTasks(rng *rand.Rand, r Range, k int) []int {
	span := r.Span()
	if k > span {
		k = span
	}
	if k <= 0 {
		return nil
	}
	tasks := make([]int, 0, k)
	if span <= 4*k {
		for _, off := range rng.Perm(span)[:k] {
			tasks = append(tasks, r.Min+off)
		}
		return tasks
	}
	seen := make(map[int]bool, k)
	for len(tasks) < k {
		v := r.Min + rng.IntN(span)
		if seen[v] {
			continue
		}
		seen[v] = true
		tasks = append(tasks, v)
	}
	return tasks
}

// bindingNames lists the names a fragment resolves: placeholders in its
// question, then in its validator, then any remaining declared ranges in
// sorted order.
func (f Fragment) bindingNames() []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if seen[name] || isReserved(name) {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, name := range placeholderNames(f.Question) {
		add(name)
	}
	for _, name := range placeholderNames(f.Validator) {
		add(name)
	}
	declared := make([]string, 0, len(f.Range))
	for name := range f.Range {
		declared = append(declared, name)
	}
	sort.Strings(declared)
	for _, name := range declared {
		add(name)
	}
	return names
}

// substitute inlines bound placeholders in a validator as parenthesized literals.
func substitute(source string, bindings map[string]int) string {
	var b strings.Builder
	for _, tok := range tokenize(source) {
		if v, ok := bindings[tok.name]; ok && tok.kind == tokenPlaceholder {
			b.WriteString("(" + strconv.Itoa(v) + ")")
			continue
		}
		b.WriteString(tok.text)
	}
	return b.String()
}
