// Package proof issues and verifies the signed tokens that prove a challenge
// was solved. Tokens are EdDSA JWTs carrying the challenge id and the
// website they were solved for as audience.
package proof

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/codecaptcha/internal/keys"
)

// DefaultValidFor is the token lifetime when IssueRequest.ValidFor is zero.
const DefaultValidFor = 600 * time.Second

// ClaimChallengeID is the private claim holding the solved challenge id.
const ClaimChallengeID = "challenge_id"

var (
	// ErrUnauthenticated reports a token that failed verification for any reason.
	ErrUnauthenticated = errors.New("unauthenticated")
	errMissingField    = errors.New("missing required field")
)

// IssueRequest describes one token to sign.
type IssueRequest struct {
	Issuer      string
	Website     string
	ChallengeID string
	ValidFor    time.Duration

	// Extra claims are merged first; registered claims always win.
	Extra map[string]any
}

// Signer signs proof tokens. It holds only the private key.
type Signer struct {
	key ed25519.PrivateKey
	now func() time.Time
}

// NewSigner returns a signer for a private key. now defaults to time.Now.
func NewSigner(key keys.Key, now func() time.Time) (*Signer, error) {
	priv, err := key.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{key: priv, now: now}, nil
}

// Issue signs a token for req.
func (s *Signer) Issue(req IssueRequest) (string, error) {
	switch {
	case req.Issuer == "":
		return "", fmt.Errorf("issue token: issuer: %w", errMissingField)
	case req.Website == "":
		return "", fmt.Errorf("issue token: website: %w", errMissingField)
	case req.ChallengeID == "":
		return "", fmt.Errorf("issue token: challenge id: %w", errMissingField)
	}
	validFor := req.ValidFor
	if validFor <= 0 {
		validFor = DefaultValidFor
	}

	now := s.now()
	claims := jwt.MapClaims{}
	for k, v := range req.Extra {
		claims[k] = v
	}
	claims[ClaimChallengeID] = req.ChallengeID
	claims["iss"] = req.Issuer
	claims["aud"] = req.Website
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Unix()
	claims["exp"] = now.Add(validFor).Unix()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
