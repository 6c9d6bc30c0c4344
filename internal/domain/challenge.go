// Package domain contains core domain types for the captcha service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// GeneratedQuestion is one puzzle produced by the template engine.
// Tasks are unique and Solutions[i] is the expected output for Tasks[i].
type GeneratedQuestion struct {
	Question  string `json:"question"`
	Tasks     []int  `json:"tasks"`
	Solutions []int  `json:"solutions"`

	// Fallback is set when generation degraded to the pass-through question.
	Fallback bool `json:"-"`
}

// Challenge is a stored puzzle bound to the website and session that requested it.
// Rows are written once and never updated.
type Challenge struct {
	ID        uuid.UUID `json:"id"`
	Website   string    `json:"website"`
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Tasks     []int     `json:"tasks"`
	Answers   []int     `json:"answers"`
	CreatedAt time.Time `json:"created_at"`
}

// Age returns how long ago the challenge was created.
func (c *Challenge) Age(now time.Time) time.Duration {
	if c.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(c.CreatedAt)
}
