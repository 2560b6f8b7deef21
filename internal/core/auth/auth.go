// Package auth provides HMAC-based API key authentication for the HTTP API.
//
// Keys have the form lf-v1-<secret_id>-<random>. The secret_id selects an
// HMAC secret from the environment; the HMAC-SHA256 of the full key is
// looked up in the api_keys table to resolve the tenant. The database stores
// only hashes, so a leaked table does not leak usable keys.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/types"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

const tenantIDKey = contextKey("tenant_id")

// TenantFromContext returns the authenticated tenant, if any.
func TenantFromContext(ctx context.Context) (types.TenantID, bool) {
	id, ok := ctx.Value(tenantIDKey).(types.TenantID)
	return id, ok
}

// WithTenant returns ctx carrying the tenant; exported for handler tests.
func WithTenant(ctx context.Context, tenantID types.TenantID) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds an in-memory secret map for O(1) lookup and queries for key rows.
type Authenticator struct {
	secrets map[string][]byte
	q       *db.Queries
	log     *zap.Logger
}

// NewAuthenticator creates an authenticator with HMAC secrets and the query
// layer.
func NewAuthenticator(secrets map[string][]byte, q *db.Queries, log *zap.Logger) *Authenticator {
	return &Authenticator{secrets: secrets, q: q, log: log}
}

// apiKeyRow mirrors the get-api-key-by-hash projection.
type apiKeyRow struct {
	APIKeyID   string         `db:"api_key_id"`
	TenantID   types.TenantID `db:"tenant_id"`
	RevokedAt  sql.NullTime   `db:"revoked_at"`
	LastUsedAt sql.NullTime   `db:"last_used_at"`
}

// Authenticate validates an API key and returns the tenant on success.
// Each failure mode gets its own sentinel so the middleware can map it to
// the right status code.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (types.TenantID, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	computedHash := ComputeHMAC(secret, apiKey)

	var row apiKeyRow
	err = a.q.Get(ctx, a.q.DB(), "get-api-key-by-hash", &row, computedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("database error: %w", err)
	}

	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// Update last_used_at if >1 minute since last update.
	// The throttle keeps hot keys from turning every request into a write.
	if shouldUpdateLastUsed(row.LastUsedAt) {
		if _, err := a.q.Exec(ctx, a.q.DB(), "update-last-used", time.Now().UTC(), row.APIKeyID); err != nil {
			a.log.Warn("failed to update key last_used_at",
				zap.String("api_key_id", row.APIKeyID), zap.Error(err))
		}
	}

	return row.TenantID, nil
}

// shouldUpdateLastUsed implements the 1-minute write throttle.
func shouldUpdateLastUsed(lastUsed sql.NullTime) bool {
	if !lastUsed.Valid {
		return true
	}
	return time.Since(lastUsed.Time) > time.Minute
}

// Middleware authenticates the X-API-Key header and injects the tenant into
// the request context. Missing, malformed, unknown, and invalid keys all
// answer 401 without distinguishing which; revoked keys answer 403;
// database failures answer 503.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			http.Error(w, ErrMissingKey.Error(), http.StatusUnauthorized)
			return
		}

		tenantID, err := a.Authenticate(r.Context(), apiKey)
		switch {
		case err == nil:
		case errors.Is(err, ErrKeyRevoked):
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		case errors.Is(err, ErrInvalidKeyFormat), errors.Is(err, ErrUnknownKey), errors.Is(err, ErrInvalidKey):
			http.Error(w, ErrInvalidKey.Error(), http.StatusUnauthorized)
			return
		default:
			a.log.Error("authentication backend failure", zap.Error(err))
			http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
	})
}
