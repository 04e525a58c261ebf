// Package auth implements the gateway's API-key authentication middleware
// (C4): extracting the caller's key, consulting the tenant cache and
// resolver, and attaching the resolved tenant.Context to the request.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wisbric/promptgate/pkg/configresolver"
	"github.com/wisbric/promptgate/pkg/tenant"
	"github.com/wisbric/promptgate/pkg/tenantcache"
)

// publicPrefixes bypass authentication entirely (§4.4).
var publicPrefixes = []string{
	"/health",
	"/favicon.ico",
	"/dashboard",
	"/v1/admin",
	"/v1/portal",
}

// IsPublicPath reports whether path should skip the auth middleware.
func IsPublicPath(path string) bool {
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// resolver is the subset of configresolver.Resolver the middleware depends
// on, narrowed for testability.
type resolver interface {
	Resolve(ctx context.Context, keyHash string) (*tenant.Context, error)
}

// Middleware authenticates each request by API key, consulting cache
// before resolver, and attaches the resolved tenant.Context on success.
// Requests under a public prefix pass through untouched. Cache
// invalidation on key revocation is driven separately by
// tenantcache.Invalidator's Redis subscription, not by this middleware.
func Middleware(cache *tenantcache.Cache, res resolver, limiter *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			rawKey := extractKey(r)
			if rawKey == "" {
				respondUnauthorized(w, "missing_api_key", "no API key provided")
				return
			}

			keyHash := HashKey(rawKey)
			prefix := keyPrefix(rawKey)

			if limiter != nil {
				result, err := limiter.Check(r.Context(), prefix)
				if err != nil {
					logger.Error("rate limit check failed", "error", err)
				} else if !result.Allowed {
					respondUnauthorized(w, "invalid_api_key", "too many failed attempts")
					return
				}
			}

			tc, ok := cache.Get(keyHash)
			if !ok {
				resolved, err := res.Resolve(r.Context(), keyHash)
				if err != nil {
					if limiter != nil {
						if recErr := limiter.Record(r.Context(), prefix); recErr != nil {
							logger.Error("recording failed auth attempt", "error", recErr)
						}
					}
					switch {
					case errors.Is(err, configresolver.ErrInvalidKey):
						respondUnauthorized(w, "invalid_api_key", "invalid API key")
					case errors.Is(err, configresolver.ErrTenantInactive):
						respondUnauthorized(w, "tenant_inactive", "tenant is not active")
					default:
						logger.Error("resolving tenant context", "error", err)
						respondUnauthorized(w, "invalid_api_key", "invalid API key")
					}
					return
				}
				tc = resolved
				cache.Set(keyHash, tc.TenantID, tc)
			}

			if limiter != nil {
				if err := limiter.Reset(r.Context(), prefix); err != nil {
					logger.Error("resetting rate limit", "error", err)
				}
			}

			ctx := tenant.NewContext(r.Context(), tc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractKey pulls the raw API key from Authorization: Bearer <key> or
// x-api-key, in that order (§4.4).
func extractKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		for _, prefix := range []string{"Bearer ", "bearer "} {
			if strings.HasPrefix(authHeader, prefix) {
				return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
			}
		}
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}

// HashKey returns the hex-encoded SHA-256 hash of a raw API key — the form
// under which keys are looked up and cached (the cache never stores the
// raw key).
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// keyPrefix returns the first 12 characters of rawKey, for rate-limiting
// and display (§3 ApiKey.key_prefix).
func keyPrefix(rawKey string) string {
	if len(rawKey) <= 12 {
		return rawKey
	}
	return rawKey[:12]
}

func respondUnauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
