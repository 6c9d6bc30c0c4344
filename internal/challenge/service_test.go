package challenge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codecaptcha/internal/domain"
	"github.com/ashureev/codecaptcha/internal/keys"
	"github.com/ashureev/codecaptcha/internal/kv"
	"github.com/ashureev/codecaptcha/internal/metrics"
	"github.com/ashureev/codecaptcha/internal/proof"
)

// fakeRepo keeps challenges in memory and reuses kv.Memory for markers.
type fakeRepo struct {
	*kv.Memory
	mu      sync.Mutex
	rows    map[uuid.UUID]domain.Challenge
	getErr    error
	createErr error
	created   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{Memory: kv.NewMemory(nil), rows: map[uuid.UUID]domain.Challenge{}}
}

func (f *fakeRepo) CreateChallenge(_ context.Context, c *domain.Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.rows[c.ID]; ok {
		return errors.New("duplicate id")
	}
	f.rows[c.ID] = *c
	f.created++
	return nil
}

func (f *fakeRepo) GetChallenge(_ context.Context, id uuid.UUID) (*domain.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	c.Tasks = append([]int(nil), c.Tasks...)
	c.Answers = append([]int(nil), c.Answers...)
	return &c, nil
}

func (f *fakeRepo) DeleteChallengesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, c := range f.rows {
		if c.CreatedAt.Before(cutoff) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

func (f *fakeRepo) row(id uuid.UUID) domain.Challenge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

type fixedGenerator struct{ q domain.GeneratedQuestion }

func (g fixedGenerator) Generate() domain.GeneratedQuestion { return g.q }

var testQuestion = domain.GeneratedQuestion{
	Question:  "Write calc(x) that returns x plus 3.",
	Tasks:     []int{4, 9, 1, 12, 7},
	Solutions: []int{7, 12, 4, 15, 10},
}

const issuer = "captcha.example"

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	verifier *proof.Verifier
}

func newFixture(t *testing.T, singleUse bool) fixture {
	t.Helper()
	pair, err := keys.Generate()
	require.NoError(t, err)
	signer, err := proof.NewSigner(pair.Private, nil)
	require.NoError(t, err)
	verifier, err := proof.NewVerifier(pair.Public, proof.VerifierOptions{Issuer: issuer})
	require.NoError(t, err)

	repo := newFakeRepo()
	svc := NewService(repo, fixedGenerator{testQuestion}, signer, repo,
		Options{SingleUse: singleUse, ChallengeTTL: time.Hour, TokenTTL: time.Minute},
		metrics.New(), nil)
	return fixture{svc: svc, repo: repo, verifier: verifier}
}

func TestCreateReveal(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	id, err := f.svc.Create(ctx, "https://Shop.example/login", "sess-1")
	require.NoError(t, err)

	question, tasks, err := f.svc.Reveal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testQuestion.Question, question)
	assert.Equal(t, testQuestion.Tasks, tasks)

	row := f.repo.row(id)
	assert.Equal(t, "shop.example", row.Website)
	assert.Equal(t, "sess-1", row.SessionID)
	assert.Equal(t, testQuestion.Solutions, row.Answers)

	_, ok, err := f.repo.Get(ctx, markerKey(id))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreate_RejectsBadInput(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "", "sess-1")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.svc.Create(ctx, "shop.example", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.svc.Create(ctx, "shop.example", "bad session")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, f.repo.created)
}

func TestReveal_NotFound(t *testing.T) {
	f := newFixture(t, true)
	_, _, err := f.svc.Reveal(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = f.svc.Reveal(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmit_CorrectAnswersYieldToken(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "shop.example", "sess-1")
	require.NoError(t, err)

	token, err := f.svc.Submit(ctx, id, testQuestion.Solutions, issuer)
	require.NoError(t, err)

	claims, err := f.verifier.Verify(token, "shop.example")
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.ChallengeID)
	assert.Equal(t, []string{"shop.example"}, claims.Audience)
	assert.Equal(t, "sess-1", claims.Extra["session_id"])
}

func TestSubmit_WrongAnswerLeavesRowUnchanged(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "shop.example", "sess-1")
	require.NoError(t, err)
	before := f.repo.row(id)

	wrong := append([]int(nil), testQuestion.Solutions...)
	wrong[2]++
	for _, answers := range [][]int{wrong, testQuestion.Solutions[:4], nil, append(wrong, 1)} {
		_, err = f.svc.Submit(ctx, id, answers, issuer)
		assert.ErrorIs(t, err, ErrIncorrect)
	}
	assert.Equal(t, before, f.repo.row(id))

	_, err = f.svc.Submit(ctx, id, testQuestion.Solutions, issuer)
	assert.NoError(t, err, "incorrect attempts must not consume the challenge")
}

func TestSubmit_SingleUse(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "shop.example", "sess-1")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, id, testQuestion.Solutions, issuer)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, id, testQuestion.Solutions, issuer)
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestSubmit_ConcurrentDuplicatesIssueOneToken(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "shop.example", "sess-1")
	require.NoError(t, err)

	var tokens, consumed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, id, testQuestion.Solutions, issuer)
			switch {
			case err == nil:
				tokens.Add(1)
			case errors.Is(err, ErrConsumed):
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), tokens.Load())
	assert.Equal(t, int32(15), consumed.Load())
}

func TestSubmit_ReusableWhenSingleUseOff(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	id, err := f.svc.Create(ctx, "shop.example", "sess-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.svc.Submit(ctx, id, testQuestion.Solutions, issuer)
		require.NoError(t, err)
	}
}

func TestSubmit_StoreFailure(t *testing.T) {
	f := newFixture(t, true)
	f.repo.getErr = errors.New("disk on fire")
	_, err := f.svc.Submit(context.Background(), uuid.New(), []int{1}, issuer)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestSubmit_NotFound(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.Submit(context.Background(), uuid.New(), testQuestion.Solutions, issuer)
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingMarkers rejects every Set.
type failingMarkers struct{ *kv.Memory }

func (failingMarkers) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("marker store unavailable")
}

func TestCreate_MarkerFailureStoresNothing(t *testing.T) {
	f := newFixture(t, true)
	pair, err := keys.Generate()
	require.NoError(t, err)
	signer, err := proof.NewSigner(pair.Private, nil)
	require.NoError(t, err)
	svc := NewService(f.repo, fixedGenerator{testQuestion}, signer, failingMarkers{kv.NewMemory(nil)},
		Options{SingleUse: true}, nil, nil)

	_, err = svc.Create(context.Background(), "shop.example", "sess-1")
	require.Error(t, err)
	assert.Zero(t, f.repo.created)
}

func TestCreate_RowFailureDropsMarker(t *testing.T) {
	f := newFixture(t, true)
	f.repo.createErr = errors.New("disk full")

	_, err := f.svc.Create(context.Background(), "shop.example", "sess-1")
	require.Error(t, err)
	assert.Zero(t, f.repo.Len())
}

func TestSubmit_ExpiredIsNotConsumed(t *testing.T) {
	pair, err := keys.Generate()
	require.NoError(t, err)
	signer, err := proof.NewSigner(pair.Private, nil)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := newFakeRepo()
	svc := NewService(repo, fixedGenerator{testQuestion}, signer, repo,
		Options{SingleUse: true, ChallengeTTL: time.Minute, Now: clock}, metrics.New(), nil)

	ctx := context.Background()
	id, err := svc.Create(ctx, "shop.example", "sess-1")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = svc.Submit(ctx, id, testQuestion.Solutions, issuer)
	assert.ErrorIs(t, err, ErrExpired)
	assert.False(t, errors.Is(err, ErrConsumed))
}
