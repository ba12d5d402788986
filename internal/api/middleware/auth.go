package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/eldtechnologies/courier/internal/auth"
	"github.com/eldtechnologies/courier/internal/models"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Authenticator verifies a bearer credential.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (models.Identity, error)
}

// AuthMiddleware checks bearer tokens on REST endpoints.
type AuthMiddleware struct {
	verifier Authenticator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(verifier Authenticator) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth rejects requests without a valid "Authorization: Bearer" token
// and stores the caller's identity in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			jsonError(w, http.StatusUnauthorized, "missing token")
			return
		}

		identity, err := m.verifier.Verify(r.Context(), header)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingCredential):
				jsonError(w, http.StatusUnauthorized, "missing token")
			case auth.Reason(err) == "internal":
				jsonError(w, http.StatusServiceUnavailable, "authentication unavailable")
			default:
				jsonError(w, http.StatusForbidden, "invalid token")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// GetIdentityFromContext retrieves the authenticated identity from the request context.
func GetIdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(models.Identity)
	return identity, ok
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
