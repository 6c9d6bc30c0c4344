package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codecaptcha/internal/keys"
	"github.com/ashureev/codecaptcha/internal/proof"
)

func TestRun(t *testing.T) {
	pair, err := keys.Generate()
	require.NoError(t, err)
	pemBytes, err := keys.Encode(pair.Public)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		_, _ = w.Write(pemBytes)
	}))
	defer srv.Close()

	signer, err := proof.NewSigner(pair.Private, nil)
	require.NoError(t, err)
	token, err := signer.Issue(proof.IssueRequest{
		Issuer:      "captcha.example",
		Website:     "shop.example",
		ChallengeID: "3f0c6c1e-8d7e-4a53-9d5e-1d1f5a3c2b10",
	})
	require.NoError(t, err)

	opts := options{keyURL: srv.URL, issuer: "captcha.example", audience: "https://shop.example", timeout: time.Second, token: token}
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), opts, &out))

	var claims map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &claims))
	assert.NotEmpty(t, claims)

	opts.audience = "other.example"
	assert.ErrorIs(t, run(context.Background(), opts, &out), proof.ErrUnauthenticated)

	opts.audience = "shop.example"
	opts.issuer = "someone-else"
	assert.ErrorIs(t, run(context.Background(), opts, &out), proof.ErrUnauthenticated)
}
