package authkey

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRefreshStoresKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/key" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"public_key":"-----BEGIN PUBLIC KEY-----abc"}`))
	}))
	defer srv.Close()

	store := &Store{}
	if _, ok := store.Get(); ok {
		t.Fatal("expected empty store")
	}

	fetcher := NewFetcher(srv.URL+"/", time.Second)
	key, err := fetcher.Refresh(context.Background(), store)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	got, ok := store.Get()
	if !ok || got != key || got != "-----BEGIN PUBLIC KEY-----abc" {
		t.Fatalf("unexpected stored key %q (ok=%v)", got, ok)
	}
	if store.UpdatedAt().IsZero() {
		t.Fatal("expected UpdatedAt to be set")
	}
}

func TestFetchFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"down"}`},
		{"missing field", http.StatusOK, `{"key":"abc"}`},
		{"invalid json", http.StatusOK, `not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			store := &Store{}
			store.Set("previous")
			_, err := NewFetcher(srv.URL, time.Second).Refresh(context.Background(), store)
			if !errors.Is(err, ErrKeyUnavailable) {
				t.Fatalf("expected ErrKeyUnavailable, got %v", err)
			}
			if got, _ := store.Get(); got != "previous" {
				t.Fatalf("failed refresh replaced key with %q", got)
			}
		})
	}
}

func TestFetchWithoutBaseURL(t *testing.T) {
	fetcher := NewFetcher("  ", 0)
	if fetcher.Configured() {
		t.Fatal("expected unconfigured fetcher")
	}
	if _, err := fetcher.Fetch(context.Background()); !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
}
