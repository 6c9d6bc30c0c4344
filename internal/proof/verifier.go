package proof

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/codecaptcha/internal/keys"
)

// DefaultLeeway is the clock skew tolerated on time claims.
const DefaultLeeway = 5 * time.Second

var registeredClaims = []string{"iss", "aud", "iat", "nbf", "exp", "sub", "jti"}

// Claims is the verified content of a proof token.
type Claims struct {
	ChallengeID string
	Issuer      string
	Audience    []string
	IssuedAt    time.Time
	NotBefore   time.Time
	ExpiresAt   time.Time
	Extra       map[string]any
}

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	// Issuer is required; tokens from any other issuer are rejected.
	Issuer string
	// Leeway defaults to DefaultLeeway. Use a negative value for none.
	Leeway time.Duration
	Now    func() time.Time
}

// Verifier checks proof tokens against a public key. It is safe for concurrent use.
type Verifier struct {
	key    ed25519.PublicKey
	issuer string
	parser *jwt.Parser
}

// NewVerifier returns a verifier for a public key. A private key is rejected.
func NewVerifier(key keys.Key, opts VerifierOptions) (*Verifier, error) {
	if key.Kind() != keys.KindPublic {
		return nil, fmt.Errorf("verifier: %w: want public, have %s", keys.ErrWrongKeyType, key.Kind())
	}
	if opts.Issuer == "" {
		return nil, fmt.Errorf("verifier: issuer: %w", errMissingField)
	}
	leeway := opts.Leeway
	switch {
	case leeway == 0:
		leeway = DefaultLeeway
	case leeway < 0:
		leeway = 0
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(opts.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(leeway),
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}
	return &Verifier{
		key:    key.PublicKey(),
		issuer: opts.Issuer,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Verify checks the signature, the time claims, the issuer and that the
// token audience matches one of audiences. Every failure wraps ErrUnauthenticated.
func (v *Verifier) Verify(token string, audiences ...string) (*Claims, error) {
	if len(audiences) == 0 {
		return nil, fmt.Errorf("%w: no audience to match", ErrUnauthenticated)
	}

	mc := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, mc, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	for _, name := range []string{"exp", "iss", "iat", "aud", ClaimChallengeID} {
		if _, ok := mc[name]; !ok {
			return nil, fmt.Errorf("%w: claim %q is required", ErrUnauthenticated, name)
		}
	}

	challengeID, ok := mc[ClaimChallengeID].(string)
	if !ok || challengeID == "" {
		return nil, fmt.Errorf("%w: claim %q must be a non-empty string", ErrUnauthenticated, ClaimChallengeID)
	}
	aud, err := mc.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !slices.ContainsFunc(aud, func(a string) bool { return slices.Contains(audiences, a) }) {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, jwt.ErrTokenInvalidAudience)
	}

	claims := &Claims{
		ChallengeID: challengeID,
		Issuer:      v.issuer,
		Audience:    aud,
		Extra:       map[string]any{},
	}
	claims.IssuedAt = numericTime(mc.GetIssuedAt())
	claims.NotBefore = numericTime(mc.GetNotBefore())
	claims.ExpiresAt = numericTime(mc.GetExpirationTime())
	for k, val := range mc {
		if k == ClaimChallengeID || slices.Contains(registeredClaims, k) {
			continue
		}
		claims.Extra[k] = val
	}
	return claims, nil
}

func numericTime(d *jwt.NumericDate, err error) time.Time {
	if err != nil || d == nil {
		return time.Time{}
	}
	return d.Time
}

// IsUnauthenticated reports whether err is a verification failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
