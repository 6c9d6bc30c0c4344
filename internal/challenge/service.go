// Package challenge runs the challenge lifecycle: create a puzzle, reveal it
// to the solver and exchange a correct submission for a proof token.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/codecaptcha/internal/domain"
	"github.com/ashureev/codecaptcha/internal/identity"
	"github.com/ashureev/codecaptcha/internal/kv"
	"github.com/ashureev/codecaptcha/internal/metrics"
	"github.com/ashureev/codecaptcha/internal/proof"
	"github.com/ashureev/codecaptcha/internal/store"
)

var (
	ErrNotFound       = errors.New("challenge not found")
	ErrIncorrect      = errors.New("challenge not solved correctly")
	ErrConsumed       = errors.New("challenge already used")
	ErrExpired        = errors.New("challenge expired")
	ErrInvalidRequest = errors.New("invalid request")
)

// ValidMarker is the single-use marker value stored per open challenge.
var ValidMarker = []byte("valid")

// Generator produces questions.
type Generator interface {
	Generate() domain.GeneratedQuestion
}

// Options tunes the service.
type Options struct {
	// SingleUse makes each challenge redeemable for at most one token.
	SingleUse bool
	// ChallengeTTL bounds how long an unsolved single-use challenge stays
	// redeemable. Later submissions fail with ErrExpired.
	ChallengeTTL time.Duration
	// TokenTTL is the lifetime of issued proof tokens.
	TokenTTL time.Duration
	Now      func() time.Time
}

// Service coordinates storage, generation and token issuance. It is safe
// for concurrent use.
type Service struct {
	repo    store.Repository
	gen     Generator
	signer  *proof.Signer
	markers kv.Store
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService wires a service. markers may be nil when SingleUse is off.
func NewService(repo store.Repository, gen Generator, signer *proof.Signer, markers kv.Store, opts Options, m *metrics.Metrics, logger *slog.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = time.Hour
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = proof.DefaultValidFor
	}
	if logger == nil {
		logger = slog.Default()
	}
	if markers == nil {
		opts.SingleUse = false
	}
	return &Service{
		repo:    repo,
		gen:     gen,
		signer:  signer,
		markers: markers,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// Create generates a question and stores it bound to website and sessionID.
func (s *Service) Create(ctx context.Context, website, sessionID string) (uuid.UUID, error) {
	host := identity.NormalizeWebsite(website)
	if host == "" {
		return uuid.Nil, fmt.Errorf("%w: website %q is not a host", ErrInvalidRequest, website)
	}
	if !identity.ValidSessionID(sessionID) {
		return uuid.Nil, fmt.Errorf("%w: session_id is missing or malformed", ErrInvalidRequest)
	}

	q := s.gen.Generate()
	c := &domain.Challenge{
		ID:        uuid.New(),
		Website:   host,
		SessionID: sessionID,
		Question:  q.Question,
		Tasks:     q.Tasks,
		Answers:   q.Solutions,
		CreatedAt: s.opts.Now().UTC().Truncate(time.Millisecond),
	}
	// The marker goes first: a marker without a row expires harmlessly, a
	// row without a marker could never be redeemed.
	if s.opts.SingleUse {
		if err := s.markers.Set(ctx, markerKey(c.ID), ValidMarker, s.opts.ChallengeTTL); err != nil {
			return uuid.Nil, fmt.Errorf("mark challenge: %w", err)
		}
	}
	if err := s.repo.CreateChallenge(ctx, c); err != nil {
		if s.opts.SingleUse {
			if _, delErr := s.markers.Delete(ctx, markerKey(c.ID)); delErr != nil {
				s.logger.Warn("failed to drop marker of unstored challenge", "challenge_id", c.ID, "error", delErr)
			}
		}
		return uuid.Nil, fmt.Errorf("store challenge: %w", err)
	}

	s.metrics.ChallengeCreated(q.Fallback)
	s.logger.Info("challenge created",
		"challenge_id", c.ID,
		"website", host,
		"tasks", len(c.Tasks),
		"fallback", q.Fallback,
	)
	return c.ID, nil
}

// Reveal returns the question text and task inputs. Expected answers never
// leave the service.
func (s *Service) Reveal(ctx context.Context, id uuid.UUID) (string, []int, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return c.Question, slices.Clone(c.Tasks), nil
}

// Submit compares answers to the stored solutions and, when they match
// exactly, returns a proof token issued by issuer. The stored row is never
// modified. With SingleUse on, the first correct submission consumes the
// challenge and later ones fail with ErrConsumed; once ChallengeTTL has
// passed, submissions fail with ErrExpired.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, answers []int, issuer string) (string, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		s.metrics.Submission(outcome(err))
		return "", err
	}
	if s.opts.SingleUse && c.Age(s.opts.Now()) >= s.opts.ChallengeTTL {
		s.metrics.Submission(metrics.OutcomeExpired)
		return "", ErrExpired
	}
	if !slices.Equal(answers, c.Answers) {
		s.metrics.Submission(metrics.OutcomeIncorrect)
		return "", ErrIncorrect
	}

	token, err := s.signer.Issue(proof.IssueRequest{
		Issuer:      issuer,
		Website:     c.Website,
		ChallengeID: c.ID.String(),
		ValidFor:    s.opts.TokenTTL,
		Extra:       map[string]any{"session_id": c.SessionID},
	})
	if err != nil {
		s.metrics.Submission(metrics.OutcomeError)
		return "", fmt.Errorf("issue token: %w", err)
	}

	if s.opts.SingleUse {
		consumed, err := s.markers.Delete(ctx, markerKey(c.ID))
		if err != nil {
			s.metrics.Submission(metrics.OutcomeError)
			return "", fmt.Errorf("consume challenge: %w", err)
		}
		if !consumed {
			s.metrics.Submission(metrics.OutcomeConsumed)
			return "", ErrConsumed
		}
	}

	s.metrics.Submission(metrics.OutcomeSolved)
	s.logger.Info("challenge solved", "challenge_id", c.ID, "website", c.Website)
	return token, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*domain.Challenge, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	c, err := s.repo.GetChallenge(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func markerKey(id uuid.UUID) string {
	return "challenge:" + id.String()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrIncorrect):
		return metrics.OutcomeIncorrect
	case errors.Is(err, ErrConsumed):
		return metrics.OutcomeConsumed
	case errors.Is(err, ErrExpired):
		return metrics.OutcomeExpired
	default:
		return metrics.OutcomeError
	}
}
