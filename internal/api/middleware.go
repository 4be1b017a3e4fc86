package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey int

const callerCtxKey contextKey = iota

// authCaller holds the authenticated service caller for a request.
type authCaller struct {
	ID   string
	Name string
}

// callerFromContext extracts the authenticated caller from the request context.
func callerFromContext(ctx context.Context) *authCaller {
	v, _ := ctx.Value(callerCtxKey).(*authCaller)
	return v
}

// --- Auth cache (stale-while-revalidate) ---

type cacheEntry struct {
	caller     *authCaller
	expiresAt  time.Time
	refreshing atomic.Bool
}

type authCache struct {
	store sync.Map // map[string]*cacheEntry (keyed by full API key)
	ttl   time.Duration
}

func newAuthCache(ttl time.Duration) *authCache {
	return &authCache{ttl: ttl}
}

func (c *authCache) get(key string) (caller *authCaller, hit bool, needsRefresh bool) {
	v, ok := c.store.Load(key)
	if !ok {
		return nil, false, false
	}
	entry := v.(*cacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return entry.caller, true, false // fresh
	}
	// Stale — return value but signal refresh needed (only one goroutine refreshes)
	needsRefresh = entry.refreshing.CompareAndSwap(false, true)
	return entry.caller, true, needsRefresh
}

func (c *authCache) set(key string, caller *authCaller) {
	c.store.Store(key, &cacheEntry{
		caller:    caller,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// evict drops a cached key so the next request authenticates against
// the store.
func (c *authCache) evict(key string) {
	c.store.Delete(key)
}

// resetRefreshing re-arms a stale entry after a failed background
// refresh so a later request retries instead of serving stale forever.
func (c *authCache) resetRefreshing(key string) {
	if v, ok := c.store.Load(key); ok {
		v.(*cacheEntry).refreshing.Store(false)
	}
}

// --- Auth middleware ---

// authMiddleware returns an http.HandlerFunc that validates Bearer wsk_
// keys and injects the authenticated caller into the request context.
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	cache := newAuthCache(d.CacheTTL)

	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid Authorization header"})
			return
		}
		if len(token) < 8 || !strings.HasPrefix(token, "wsk_") {
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key format"})
			return
		}

		// Cache lookup
		caller, hit, needsRefresh := cache.get(token)
		if hit && needsRefresh {
			// Stale hit — return stale immediately, refresh in background
			go d.refreshAuth(cache, token)
		}
		if hit && caller != nil {
			ctx := context.WithValue(r.Context(), callerCtxKey, caller)
			next(w, r.WithContext(ctx))
			return
		}

		// Cache miss — synchronous lookup
		caller, err := d.authenticateToken(r.Context(), token)
		if err != nil {
			d.Logger.Warn("auth failed", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key"})
			return
		}

		cache.set(token, caller)
		ctx := context.WithValue(r.Context(), callerCtxKey, caller)
		next(w, r.WithContext(ctx))
	}
}

// errAuthRejected marks an authoritative rejection (unknown, disabled,
// or mismatched key) as opposed to a transient lookup failure.
var errAuthRejected = errors.New("service key rejected")

// authenticateToken validates an API key against Postgres and returns the caller.
func (d *Dependencies) authenticateToken(ctx context.Context, token string) (*authCaller, error) {
	prefix := token[:8]
	key, err := d.Store.LookupKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("key lookup: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: no key for prefix", errAuthRejected)
	}
	if key.Disabled {
		return nil, fmt.Errorf("%w: key disabled", errAuthRejected)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(token)); err != nil {
		return nil, fmt.Errorf("%w: %v", errAuthRejected, err)
	}

	return &authCaller{ID: key.ID, Name: key.Name}, nil
}

// refreshAuth refreshes the cache entry in the background. A revoked or
// deleted key is evicted so revocation takes effect; a transient lookup
// failure keeps the stale entry but re-arms the refresh flag.
func (d *Dependencies) refreshAuth(cache *authCache, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	caller, err := d.authenticateToken(ctx, token)
	if err != nil {
		if errors.Is(err, errAuthRejected) {
			cache.evict(token)
		} else {
			cache.resetRefreshing(token)
		}
		d.Logger.Warn("background auth refresh failed", zap.Error(err))
		return
	}
	cache.set(token, caller)
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// readJSON decodes a JSON request body into the given pointer.
func readJSON(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
