//go:build cucumber

package challenge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"github.com/ashureev/codecaptcha/internal/domain"
	"github.com/ashureev/codecaptcha/internal/keys"
	"github.com/ashureev/codecaptcha/internal/proof"
	"github.com/ashureev/codecaptcha/internal/questions"
)

// TestChallengeFeatures executes the challenge lifecycle scenarios via godog.
func TestChallengeFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "challenge",
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{filepath.Join("features", "challenge.feature")},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

// InitializeScenario wires step definitions for the challenge feature.
func InitializeScenario(ctx *godog.ScenarioContext) {
	state := &lifecycleState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*state = lifecycleState{}
		return ctx, nil
	})

	ctx.Step(`^a challenge service with single use enabled$`, state.serviceWithSingleUse)
	ctx.Step(`^a challenge service whose question set always fails$`, state.serviceWithBrokenSet)
	ctx.Step(`^website "([^"]+)" creates a challenge for session "([^"]+)"$`, state.create)
	ctx.Step(`^the visitor submits the expected answers$`, state.submitExpected)
	ctx.Step(`^the visitor submits the expected answers with answer (\d+) changed$`, state.submitWithChange)
	ctx.Step(`^the visitor submits answers for an unknown challenge$`, state.submitUnknown)
	ctx.Step(`^a token is issued$`, state.tokenIssued)
	ctx.Step(`^the token audience is "([^"]+)"$`, state.tokenAudience)
	ctx.Step(`^the token names the challenge$`, state.tokenNamesChallenge)
	ctx.Step(`^the submission is rejected as "([^"]+)"$`, state.rejectedAs)
	ctx.Step(`^the stored challenge is unchanged$`, state.rowUnchanged)
	ctx.Step(`^the revealed tasks equal the expected answers$`, state.tasksEqualAnswers)
}

type lifecycleState struct {
	svc      *Service
	repo     *fakeRepo
	verifier *proof.Verifier
	id       uuid.UUID
	before   domain.Challenge
	token    string
	claims   *proof.Claims
	err      error
}

func (s *lifecycleState) build(gen Generator) error {
	pair, err := keys.Generate()
	if err != nil {
		return err
	}
	signer, err := proof.NewSigner(pair.Private, nil)
	if err != nil {
		return err
	}
	if s.verifier, err = proof.NewVerifier(pair.Public, proof.VerifierOptions{Issuer: issuer}); err != nil {
		return err
	}
	s.repo = newFakeRepo()
	s.svc = NewService(s.repo, gen, signer, s.repo, Options{SingleUse: true, ChallengeTTL: time.Hour}, nil, nil)
	return nil
}

func (s *lifecycleState) serviceWithSingleUse() error {
	return s.build(fixedGenerator{testQuestion})
}

func (s *lifecycleState) serviceWithBrokenSet() error {
	set := &questions.Set{
		Construct: []string{"{base}"},
		Base: []questions.BaseFragment{{
			Fragment: questions.Fragment{Question: "explode", Validator: "f(x) = factorial(x + 100)"},
			Input:    &questions.Range{Min: 1, Max: 50},
		}},
	}
	return s.build(questions.NewGenerator(set, nil))
}

func (s *lifecycleState) create(website, session string) error {
	id, err := s.svc.Create(context.Background(), website, session)
	if err != nil {
		return err
	}
	s.id = id
	s.before = s.repo.row(id)
	return nil
}

func (s *lifecycleState) submit(answers []int) {
	s.token, s.err = s.svc.Submit(context.Background(), s.id, answers, issuer)
}

func (s *lifecycleState) submitExpected() error {
	s.submit(s.repo.row(s.id).Answers)
	return nil
}

func (s *lifecycleState) submitWithChange(index int) error {
	answers := slices.Clone(s.repo.row(s.id).Answers)
	if index >= len(answers) {
		return fmt.Errorf("challenge has only %d answers", len(answers))
	}
	answers[index]++
	s.submit(answers)
	return nil
}

func (s *lifecycleState) submitUnknown() error {
	if s.svc == nil {
		return errors.New("service not built")
	}
	s.id = uuid.New()
	s.submit([]int{1, 2, 3})
	return nil
}

func (s *lifecycleState) tokenIssued() error {
	if s.err != nil {
		return fmt.Errorf("expected token, got error: %w", s.err)
	}
	claims, err := s.verifier.Verify(s.token, s.repo.row(s.id).Website)
	if err != nil {
		return err
	}
	s.claims = claims
	return nil
}

func (s *lifecycleState) tokenAudience(want string) error {
	if !slices.Contains(s.claims.Audience, want) {
		return fmt.Errorf("audience %v does not contain %q", s.claims.Audience, want)
	}
	return nil
}

func (s *lifecycleState) tokenNamesChallenge() error {
	if s.claims.ChallengeID != s.id.String() {
		return fmt.Errorf("challenge_id %q, want %q", s.claims.ChallengeID, s.id)
	}
	return nil
}

func (s *lifecycleState) rejectedAs(kind string) error {
	want := map[string]error{
		"incorrect": ErrIncorrect,
		"consumed":  ErrConsumed,
		"not_found": ErrNotFound,
	}[kind]
	if want == nil {
		return fmt.Errorf("unknown rejection %q", kind)
	}
	if !errors.Is(s.err, want) {
		return fmt.Errorf("got %v, want %v", s.err, want)
	}
	if s.token != "" {
		return errors.New("token issued on rejection")
	}
	return nil
}

func (s *lifecycleState) rowUnchanged() error {
	now := s.repo.row(s.id)
	if !slices.Equal(now.Answers, s.before.Answers) || !slices.Equal(now.Tasks, s.before.Tasks) || now.Question != s.before.Question {
		return errors.New("stored challenge changed")
	}
	return nil
}

func (s *lifecycleState) tasksEqualAnswers() error {
	_, tasks, err := s.svc.Reveal(context.Background(), s.id)
	if err != nil {
		return err
	}
	if !slices.Equal(tasks, s.repo.row(s.id).Answers) {
		return fmt.Errorf("tasks %v differ from answers", tasks)
	}
	return nil
}
