package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader carries a static API key.
const APIKeyHeader = "X-API-Key"

type principalKey struct{}

// principalSlot lets an outer middleware observe a principal authenticated
// further down the chain.
type principalSlot struct{ name string }

type principalSlotKey struct{}

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, name string) context.Context {
	if slot, ok := ctx.Value(principalSlotKey{}).(*principalSlot); ok {
		slot.name = name
	}
	return context.WithValue(ctx, principalKey{}, name)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(principalKey{}).(string)
	return name, ok
}

// AuthConfig configures Authenticate. With no verifier and no keys the
// middleware lets every request through.
type AuthConfig struct {
	Verifier TokenVerifier
	// APIKeys maps a key to the principal it authenticates.
	APIKeys map[string]string
}

// Enabled reports whether any credential source is configured.
func (c AuthConfig) Enabled() bool {
	return c.Verifier != nil || len(c.APIKeys) > 0
}

type hashedKey struct {
	sum       [sha256.Size]byte
	principal string
}

// Authenticate accepts a bearer token or an API key and stores the principal
// in the request context. Anything else is answered with 401.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}

	keys := make([]hashedKey, 0, len(cfg.APIKeys))
	for k, p := range cfg.APIKeys {
		keys = append(keys, hashedKey{sum: sha256.Sum256([]byte(k)), principal: p})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if principal, ok := authenticate(r, cfg.Verifier, keys); ok {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="sqlgate"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":    http.StatusUnauthorized,
				"message": "unauthorized: provide a valid bearer token or API key",
			})
		})
	}
}

func authenticate(r *http.Request, verifier TokenVerifier, keys []hashedKey) (string, bool) {
	if verifier != nil {
		if token, ok := bearerToken(r); ok {
			if claims, err := verifier.Verify(r.Context(), token); err == nil && claims.Subject != "" {
				return claims.Subject, true
			}
		}
	}
	if key := r.Header.Get(APIKeyHeader); key != "" && len(keys) > 0 {
		sum := sha256.Sum256([]byte(key))
		for _, k := range keys {
			if subtle.ConstantTimeCompare(sum[:], k.sum[:]) == 1 {
				return k.principal, true
			}
		}
	}
	return "", false
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
