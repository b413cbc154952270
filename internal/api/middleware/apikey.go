package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	pkgmw "github.com/agentoven/agentoven/guardrail-engine/pkg/middleware"
)

const defaultKeyHeader = "X-API-Key"

// APIKeyAuth guards /api/v1 with static API keys, accepted either as
// "Authorization: Bearer <key>" or in the key header (X-API-Key unless
// configured otherwise). /health and /version stay public.
//
// Only SHA-256 digests of the keys are held. A caller that presents a
// valid key is stamped into the context as "key:<fingerprint>", which is
// what the audit log records.
type APIKeyAuth struct {
	mu     sync.RWMutex
	keys   map[[sha256.Size]byte]struct{}
	header string
}

// APIKeyOption configures APIKeyAuth.
type APIKeyOption func(*APIKeyAuth)

// WithKeyHeader sets the header read besides Authorization.
func WithKeyHeader(name string) APIKeyOption {
	return func(a *APIKeyAuth) {
		if name != "" {
			a.header = name
		}
	}
}

// NewAPIKeyAuth builds the middleware. Blank keys are ignored; with no
// keys left, auth is disabled.
func NewAPIKeyAuth(keys []string, opts ...APIKeyOption) *APIKeyAuth {
	a := &APIKeyAuth{
		keys:   make(map[[sha256.Size]byte]struct{}, len(keys)),
		header: defaultKeyHeader,
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys[sha256.Sum256([]byte(k))] = struct{}{}
		}
	}
	return a
}

// Enabled reports whether any key is registered.
func (a *APIKeyAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.keys) > 0
}

// AddKey registers a key at runtime.
func (a *APIKeyAuth) AddKey(key string) {
	a.mu.Lock()
	a.keys[sha256.Sum256([]byte(key))] = struct{}{}
	a.mu.Unlock()
}

// RemoveKey revokes a key. Removing the last key disables auth.
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	delete(a.keys, sha256.Sum256([]byte(key)))
	a.mu.Unlock()
}

func (a *APIKeyAuth) known(key string) bool {
	digest := sha256.Sum256([]byte(key))
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[digest]
	return ok
}

// Middleware enforces the keys.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/version" || !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := a.presented(r)
		switch {
		case key == "":
			unauthorized(w, "API key required: send Authorization: Bearer <key> or "+a.header+".")
			return
		case !a.known(key):
			unauthorized(w, "Invalid API key.")
			return
		}

		ctx := pkgmw.SetIdentity(r.Context(), &contracts.Identity{
			Subject:  "key:" + Fingerprint(key),
			Provider: "apikey",
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *APIKeyAuth) presented(r *http.Request) string {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return strings.TrimSpace(r.Header.Get(a.header))
}

// Fingerprint names a key without revealing it: the first 12 hex
// characters of its SHA-256.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="guardrail-engine"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
