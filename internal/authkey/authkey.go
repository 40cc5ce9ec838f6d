// Package authkey keeps the auth service's current token verification key.
//
// The auth service announces rotations with a bare "AVAILABLE" notice; the
// machine then fetches the key itself over HTTP. Verifying tokens with the
// key is left to callers.
package authkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrKeyUnavailable is returned when the auth service cannot supply a key.
var ErrKeyUnavailable = errors.New("public key unavailable")

const (
	keyPath         = "/auth/key"
	maxResponseSize = 64 << 10
	userAgent       = "machine/1.0"
)

// Store holds the most recently fetched key. The zero value is empty and
// ready to use.
type Store struct {
	mu        sync.RWMutex
	key       string
	updatedAt time.Time
}

// Set replaces the stored key.
func (s *Store) Set(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = key
	s.updatedAt = time.Now().UTC()
}

// Get returns the stored key and whether one has been loaded.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key, s.key != ""
}

// UpdatedAt returns when the key last changed, or zero if never.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Fetcher retrieves keys from the auth service.
type Fetcher struct {
	baseURL string
	client  *http.Client
}

// NewFetcher builds a fetcher for the auth service at baseURL.
func NewFetcher(baseURL string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fetcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an auth service URL is set.
func (f *Fetcher) Configured() bool {
	return f != nil && f.baseURL != ""
}

// URL returns the endpoint the key is fetched from.
func (f *Fetcher) URL() string {
	return f.baseURL + keyPath
}

type keyResponse struct {
	PublicKey *string `json:"public_key"`
}

// Fetch downloads the current key.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	if !f.Configured() {
		return "", fmt.Errorf("%w: auth base url not configured", ErrKeyUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(), nil)
	if err != nil {
		return "", fmt.Errorf("build key request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch public key: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read key response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: auth service returned %s", ErrKeyUnavailable, resp.Status)
	}
	var payload keyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: decode key response: %v", ErrKeyUnavailable, err)
	}
	if payload.PublicKey == nil {
		return "", fmt.Errorf("%w: response has no public_key field", ErrKeyUnavailable)
	}
	return *payload.PublicKey, nil
}

// Refresh fetches the current key and stores it.
func (f *Fetcher) Refresh(ctx context.Context, store *Store) (string, error) {
	key, err := f.Fetch(ctx)
	if err != nil {
		return "", err
	}
	store.Set(key)
	return key, nil
}
