// Package auth turns a connection credential into a trusted Identity.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eldtechnologies/courier/internal/crypto"
	"github.com/eldtechnologies/courier/internal/models"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNoIdentity        = errors.New("credential carries no identity")
	ErrUnknownUser       = errors.New("unknown user")
)

// identityClaims are checked in order; the first usable one wins.
var identityClaims = []string{"id", "user_id"}

// UserLookup loads the display summary for an authenticated user id.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Verifier validates bearer credentials against a shared secret.
type Verifier struct {
	secret string
	users  UserLookup
}

// NewVerifier creates a Verifier.
func NewVerifier(secret string, users UserLookup) *Verifier {
	return &Verifier{secret: secret, users: users}
}

// Verify checks the credential and returns the identity it proves.
// The credential may carry a "Bearer " prefix.
func (v *Verifier) Verify(ctx context.Context, credential string) (models.Identity, error) {
	tokenStr := crypto.StripScheme(credential)
	if tokenStr == "" {
		return models.Identity{}, ErrMissingCredential
	}

	claims, err := crypto.ParseToken(tokenStr, v.secret)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	userID, err := IdentityID(claims)
	if err != nil {
		return models.Identity{}, err
	}

	user, err := v.users.GetUserByID(ctx, userID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	if user == nil {
		return models.Identity{}, fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}

	return models.IdentityFromUser(user), nil
}

// IdentityID extracts the positive numeric user id from a claim set.
func IdentityID(claims jwt.MapClaims) (int64, error) {
	for _, name := range identityClaims {
		raw, ok := claims[name]
		if !ok {
			continue
		}
		if id, ok := toID(raw); ok {
			return id, nil
		}
	}
	return 0, ErrNoIdentity
}

func toID(raw interface{}) (int64, bool) {
	var id int64
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		id = n
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		id = int64(v)
	case int64:
		id = v
	case int:
		id = int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		id = n
	default:
		return 0, false
	}
	return id, id > 0
}

// Reason maps a verification error to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential):
		return "missing"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid"
	case errors.Is(err, ErrNoIdentity):
		return "no_identity"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	default:
		return "internal"
	}
}
