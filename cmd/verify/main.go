// Command verify checks a proof token the way a relying site does: it fetches
// the captcha server's public key over HTTP and validates the token offline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/codecaptcha/internal/identity"
	"github.com/ashureev/codecaptcha/internal/proof"
)

type options struct {
	keyURL   string
	issuer   string
	audience string
	timeout  time.Duration
	token    string
}

func main() {
	var opts options
	flag.StringVar(&opts.keyURL, "key-url", "http://localhost:8001/api/challenge/get-public-key", "public key endpoint")
	flag.StringVar(&opts.issuer, "issuer", "localhost:8001", "expected token issuer")
	flag.StringVar(&opts.audience, "audience", "", "website the token must be bound to")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "key fetch timeout")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if flag.NArg() != 1 || opts.audience == "" {
		fmt.Fprintln(os.Stderr, "usage: verify -audience <website> [-key-url URL] [-issuer HOST] <token>")
		os.Exit(2)
	}
	opts.token = flag.Arg(0)

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		slog.Error("Token rejected", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	source, err := proof.NewRemoteKeySource(opts.keyURL, opts.timeout, 0)
	if err != nil {
		return err
	}
	verifier, err := source.Verifier(ctx, proof.VerifierOptions{Issuer: opts.issuer})
	if err != nil {
		return err
	}
	audiences := identity.AudienceVariants(opts.audience)
	if len(audiences) == 0 {
		return fmt.Errorf("invalid audience %q", opts.audience)
	}
	claims, err := verifier.Verify(opts.token, audiences...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(claims)
}
