// Command replay regenerates questions over a range of seeds and reports
// fallbacks and broken invariants. It exits non-zero when any seed misbehaves.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/ashureev/codecaptcha/internal/domain"
	"github.com/ashureev/codecaptcha/internal/questions"
	"github.com/ashureev/codecaptcha/internal/questions/defaults"
	"github.com/ashureev/codecaptcha/internal/validator"
)

type report struct {
	Seeds      int
	Fallbacks  []uint64
	Violations map[uint64]string
}

func (r report) ok() bool {
	return len(r.Fallbacks) == 0 && len(r.Violations) == 0
}

func main() {
	path := flag.String("questions", "", "question set file (.json, .yaml); empty uses the built-in set")
	from := flag.Uint64("from", 0, "first seed")
	count := flag.Int("count", 10000, "number of seeds to replay")
	flag.Parse()

	// Generation failures are tallied in the report; keep their log lines off stdout.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	var (
		set *questions.Set
		err error
	)
	if *path == "" {
		set, err = defaults.Set()
	} else {
		set, err = questions.Load(*path)
	}
	if err != nil {
		slog.Error("Failed to load question set", "error", err)
		os.Exit(2)
	}

	r := replay(questions.NewGenerator(set, logger), *from, *count, os.Stdout)
	if !r.ok() {
		os.Exit(1)
	}
}

func replay(gen *questions.Generator, from uint64, count int, out io.Writer) report {
	r := report{Violations: map[uint64]string{}}
	for i := 0; i < count; i++ {
		seed := from + uint64(i)
		q := gen.GenerateWithSeed(seed)
		r.Seeds++
		if q.Fallback {
			r.Fallbacks = append(r.Fallbacks, seed)
		} else if msg := checkSeed(gen, seed, q); msg != "" {
			r.Violations[seed] = msg
		}
		if r.Seeds%100 == 0 {
			fmt.Fprintf(out, "%d/%d seeds replayed\n", r.Seeds, count)
		}
	}

	fmt.Fprintf(out, "replayed %d seeds: %d fallbacks, %d violations\n", r.Seeds, len(r.Fallbacks), len(r.Violations))
	for _, seed := range r.Fallbacks {
		fmt.Fprintf(out, "fallback at seed %d\n", seed)
	}
	for seed, msg := range r.Violations {
		fmt.Fprintf(out, "seed %d: %s\n", seed, msg)
	}
	return r
}

// checkSeed regenerates seed and checks that the output is identical and
// that the validator chain reproduces every solution.
func checkSeed(gen *questions.Generator, seed uint64, q domain.GeneratedQuestion) string {
	if msg := check(q); msg != "" {
		return msg
	}
	if again := gen.GenerateWithSeed(seed); !reflect.DeepEqual(again, q) {
		return "regenerating the seed gave a different question"
	}
	chain, err := gen.ChainForSeed(seed)
	if err != nil {
		return fmt.Sprintf("rebuild validator chain: %v", err)
	}
	return checkSolutions(chain, q)
}

func checkSolutions(chain validator.Chain, q domain.GeneratedQuestion) string {
	for i, task := range q.Tasks {
		got, err := chain.Apply(task)
		if err != nil {
			return fmt.Sprintf("task %d: %v", task, err)
		}
		if got != q.Solutions[i] {
			return fmt.Sprintf("task %d: chain gives %d, solution is %d", task, got, q.Solutions[i])
		}
	}
	return ""
}

// check returns a description of the first broken shape invariant, or "".
func check(q domain.GeneratedQuestion) string {
	if q.Question == "" {
		return "empty question"
	}
	if n := len(q.Tasks); n < questions.MinTasks || n > questions.MaxTasks {
		return fmt.Sprintf("%d tasks, want %d..%d", n, questions.MinTasks, questions.MaxTasks)
	}
	if len(q.Solutions) != len(q.Tasks) {
		return fmt.Sprintf("%d solutions for %d tasks", len(q.Solutions), len(q.Tasks))
	}
	seen := make(map[int]struct{}, len(q.Tasks))
	for _, task := range q.Tasks {
		if _, dup := seen[task]; dup {
			return fmt.Sprintf("duplicate task %d", task)
		}
		seen[task] = struct{}{}
	}
	return ""
}
