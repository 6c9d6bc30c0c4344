package proof

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/codecaptcha/internal/keys"
)

const (
	defaultFetchTimeout = 10 * time.Second
	defaultRefresh      = time.Hour
	maxKeyBytes         = 64 << 10
)

// RemoteKeySource fetches the issuer's public key over HTTP and caches it.
// A failed refresh keeps serving the last good key.
type RemoteKeySource struct {
	url        *url.URL
	httpClient *http.Client
	refresh    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	key     keys.Key
	fetched time.Time
}

// NewRemoteKeySource returns a source for rawURL. Zero durations pick defaults.
func NewRemoteKeySource(rawURL string, timeout, refresh time.Duration) (*RemoteKeySource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse key URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("key URL %q must be http or https", rawURL)
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	return &RemoteKeySource{
		url:        u,
		httpClient: &http.Client{Timeout: timeout},
		refresh:    refresh,
		now:        time.Now,
	}, nil
}

// Key returns the cached public key, fetching it when missing or stale.
func (r *RemoteKeySource) Key(ctx context.Context) (keys.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.key.IsZero() && r.now().Sub(r.fetched) < r.refresh {
		return r.key, nil
	}
	key, err := r.fetch(ctx)
	if err != nil {
		if !r.key.IsZero() {
			return r.key, nil
		}
		return keys.Key{}, err
	}
	r.key = key
	r.fetched = r.now()
	return key, nil
}

// Verifier builds a Verifier over the current remote key.
func (r *RemoteKeySource) Verifier(ctx context.Context, opts VerifierOptions) (*Verifier, error) {
	key, err := r.Key(ctx)
	if err != nil {
		return nil, err
	}
	return NewVerifier(key, opts)
}

func (r *RemoteKeySource) fetch(ctx context.Context) (keys.Key, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url.String(), nil)
	if err != nil {
		return keys.Key{}, fmt.Errorf("create key request: %w", err)
	}
	req.Header.Set("Accept", "application/x-pem-file")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return keys.Key{}, fmt.Errorf("fetch public key: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyBytes))
	if err != nil {
		return keys.Key{}, fmt.Errorf("read public key: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return keys.Key{}, fmt.Errorf("unexpected key status %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return keys.Decode(body, keys.KindPublic)
}
