// Package questions implements the question grammar and the template engine
// that expands it into puzzles with reproducible inputs and expected outputs.
package questions

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Reserved placeholder names inside construct patterns.
const (
	PlaceholderConstruct = "construct"
	PlaceholderBase      = "base"
	PlaceholderPart      = "part"
	PlaceholderInit      = "init"
	PlaceholderCont      = "cont"
)

// legacyInputKey is the range key older question sets used for the task domain.
const legacyInputKey = "__base__"

// ErrInvalidSet reports a malformed question set. It is a configuration error.
var ErrInvalidSet = errors.New("invalid question set")

// Range is an inclusive integer interval, encoded as [min, max].
type Range struct {
	Min int
	Max int
}

// Span returns the number of integers in the range.
func (r Range) Span() int {
	return r.Max - r.Min + 1
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

func (r *Range) set(pair []int) error {
	if len(pair) != 2 {
		return fmt.Errorf("range must have exactly 2 bounds, got %d", len(pair))
	}
	if pair[0] > pair[1] {
		return fmt.Errorf("range min %d exceeds max %d", pair[0], pair[1])
	}
	r.Min, r.Max = pair[0], pair[1]
	return nil
}

// UnmarshalJSON decodes [min, max].
func (r *Range) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode range: %w", err)
	}
	return r.set(pair)
}

// MarshalJSON encodes the range as [min, max].
func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Min, r.Max})
}

// UnmarshalYAML decodes a [min, max] sequence.
func (r *Range) UnmarshalYAML(value *yaml.Node) error {
	var pair []int
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("decode range: %w", err)
	}
	return r.set(pair)
}

// Fragment is a reusable piece of question text with its validator.
// Placeholders in Question are resolved to integers drawn from Range.
type Fragment struct {
	Question  string           `json:"question" yaml:"question"`
	Validator string           `json:"validator" yaml:"validator"`
	Range     map[string]Range `json:"range,omitempty" yaml:"range,omitempty"`
}

// BaseFragment is the fragment that fixes the task input domain.
type BaseFragment struct {
	Fragment `yaml:",inline"`
	Input    *Range `json:"input,omitempty" yaml:"input,omitempty"`
}

// Set is the operator-authored grammar. It is read-only once loaded.
type Set struct {
	Construct []string       `json:"construct" yaml:"construct"`
	Base      []BaseFragment `json:"base" yaml:"base"`
	Part      []Fragment     `json:"part" yaml:"part"`
	Init      []string       `json:"init" yaml:"init"`
	Cont      []string       `json:"cont" yaml:"cont"`
}

// normalize moves a legacy "__base__" range into Input.
func (s *Set) normalize() {
	for i := range s.Base {
		b := &s.Base[i]
		legacy, ok := b.Range[legacyInputKey]
		if !ok {
			continue
		}
		if b.Input == nil {
			in := legacy
			b.Input = &in
		}
		delete(b.Range, legacyInputKey)
	}
}
