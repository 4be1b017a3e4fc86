package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/clearline-ai/warden/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// fakeKeyStore serves a single service key from memory.
type fakeKeyStore struct {
	mu      sync.Mutex
	key     *store.ServiceKey
	err     error
	lookups int
}

func (f *fakeKeyStore) LookupKeyByPrefix(ctx context.Context, prefix string) (*store.ServiceKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	if f.key != nil && f.key.KeyPrefix == prefix {
		cp := *f.key
		return &cp, nil
	}
	return nil, nil
}

func newAuthedDeps(t *testing.T, token string, disabled bool) (*Dependencies, *fakeKeyStore) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	ks := &fakeKeyStore{key: &store.ServiceKey{
		ID:        "key-1",
		Name:      "test service",
		KeyPrefix: token[:8],
		KeyHash:   string(hash),
		Disabled:  disabled,
	}}
	d := newTestDeps(t)
	d.Store = ks
	d.CacheTTL = time.Minute
	return d, ks
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/oversight/tier", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthMiddleware(t *testing.T) {
	const token = "wsk_1234567890abcdef"
	d, _ := newAuthedDeps(t, token, false)

	var gotCaller *authCaller
	handler := d.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotCaller = callerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid key", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, authedRequest(token))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
		}
		if gotCaller == nil || gotCaller.ID != "key-1" {
			t.Errorf("caller = %+v, want key-1", gotCaller)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, authedRequest(""))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("wrong prefix", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, authedRequest("sk_wrong_prefix_key"))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, authedRequest("wsk_ffffffffffffffff"))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})

	t.Run("wrong secret same prefix", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, authedRequest(token[:8]+"wrongsecret"))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rr.Code)
		}
	})
}

func TestAuthMiddleware_DisabledKey(t *testing.T) {
	const token = "wsk_1234567890abcdef"
	d, _ := newAuthedDeps(t, token, true)

	handler := d.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rr := httptest.NewRecorder()
	handler(rr, authedRequest(token))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for disabled key", rr.Code)
	}
}

func TestAuthMiddleware_CachesLookups(t *testing.T) {
	const token = "wsk_1234567890abcdef"
	d, ks := newAuthedDeps(t, token, false)

	handler := d.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler(rr, authedRequest(token))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rr.Code)
		}
	}

	ks.mu.Lock()
	lookups := ks.lookups
	ks.mu.Unlock()
	if lookups != 1 {
		t.Errorf("store lookups = %d, want 1 (cache should absorb repeats)", lookups)
	}
}

// staleEntry builds an expired cache entry mid-refresh, as authCache.get
// leaves it after handing out a stale caller.
func staleEntry(caller *authCaller) *cacheEntry {
	e := &cacheEntry{caller: caller, expiresAt: time.Now().Add(-time.Second)}
	e.refreshing.Store(true)
	return e
}

func TestRefreshAuth_EvictsRevokedKey(t *testing.T) {
	const token = "wsk_1234567890abcdef"
	d, ks := newAuthedDeps(t, token, false)
	cache := newAuthCache(time.Minute)
	cache.store.Store(token, staleEntry(&authCaller{ID: "key-1"}))

	ks.mu.Lock()
	ks.key.Disabled = true
	ks.mu.Unlock()

	d.refreshAuth(cache, token)

	if _, hit, _ := cache.get(token); hit {
		t.Error("revoked key must be evicted, not served stale forever")
	}
}

func TestRefreshAuth_TransientFailureRetries(t *testing.T) {
	const token = "wsk_1234567890abcdef"
	d, ks := newAuthedDeps(t, token, false)
	cache := newAuthCache(time.Minute)
	cache.store.Store(token, staleEntry(&authCaller{ID: "key-1"}))

	ks.mu.Lock()
	ks.err = errors.New("connection refused")
	ks.mu.Unlock()

	d.refreshAuth(cache, token)

	caller, hit, needsRefresh := cache.get(token)
	if !hit || caller == nil {
		t.Fatal("stale entry must survive a transient lookup failure")
	}
	if !needsRefresh {
		t.Error("refresh flag must be re-armed so the next request retries")
	}

	// Once the store recovers, the next refresh repairs the entry.
	ks.mu.Lock()
	ks.err = nil
	ks.mu.Unlock()

	d.refreshAuth(cache, token)

	if _, _, stillStale := cache.get(token); stillStale {
		t.Error("entry must be fresh after a successful refresh")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer wsk_abc", "wsk_abc", true},
		{"empty", "", "", false},
		{"no bearer", "Basic dXNlcg==", "", false},
		{"trailing space", "Bearer wsk_abc  ", "wsk_abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, ok := extractBearerToken(req)
			if got != tt.want || ok != tt.ok {
				t.Errorf("extractBearerToken = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	h := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/scan", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers")
	}
}
