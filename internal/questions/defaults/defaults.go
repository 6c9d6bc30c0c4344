// Package defaults embeds the question set served when no custom set is configured.
package defaults

import (
	_ "embed"

	"github.com/ashureev/codecaptcha/internal/questions"
)

//go:embed question_set.json
var questionSet []byte

// Set parses and validates the embedded question set.
func Set() (*questions.Set, error) {
	return questions.Parse(questionSet, questions.FormatJSON)
}

// Raw returns a copy of the embedded JSON document.
func Raw() []byte {
	out := make([]byte, len(questionSet))
	copy(out, questionSet)
	return out
}
