package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/salesboard/salesboard/models"
	"github.com/salesboard/salesboard/policy"
)

// ContextKey is used to store the caller identity in the request context.
type ContextKey string

const (
	// IdentityKey is the context key for the resolved caller identity.
	IdentityKey ContextKey = "identity"
	// AuthHeaderName is the name of the authentication header.
	AuthHeaderName = "Authorization"
)

// Authenticator resolves a bearer token to a user ID.
type Authenticator interface {
	UserIDForToken(token string) (string, bool)
}

// StaticTokenAuthenticator resolves tokens from a fixed token->user map.
type StaticTokenAuthenticator map[string]string

func (a StaticTokenAuthenticator) UserIDForToken(token string) (string, bool) {
	userID, ok := a[token]

	return userID, ok
}

// GetIdentity returns the caller identity stored in the request context.
// The zero Identity is returned when authentication did not run, so policy
// checks deny by default.
func GetIdentity(ctx context.Context) policy.Identity {
	ident, ok := ctx.Value(IdentityKey).(policy.Identity)
	if !ok {
		return policy.Identity{}
	}

	return ident
}

// AuthMiddleware verifies bearer tokens and loads the caller's account
// record so downstream handlers see a resolved identity.
type AuthMiddleware struct {
	auth  Authenticator
	users models.UserRepository
}

// NewAuthMiddleware creates a new AuthMiddleware.
func NewAuthMiddleware(auth Authenticator, users models.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{
		auth:  auth,
		users: users,
	}
}

// Authenticate is the middleware function for authentication.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get(AuthHeaderName)
		if authHeader == "" {
			renderJSON(w, http.StatusUnauthorized, apiError{Code: http.StatusUnauthorized, Message: "missing authorization header"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			renderJSON(w, http.StatusUnauthorized, apiError{Code: http.StatusUnauthorized, Message: "invalid authorization format"})
			return
		}

		userID, ok := m.auth.UserIDForToken(parts[1])
		if !ok || userID == "" {
			renderJSON(w, http.StatusUnauthorized, apiError{Code: http.StatusUnauthorized, Message: "invalid token"})
			return
		}

		user, err := m.users.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, models.ErrUserNotFound) {
				renderJSON(w, http.StatusUnauthorized, apiError{Code: http.StatusUnauthorized, Message: "unknown user"})
				return
			}

			renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "failed to load user"})

			return
		}

		ctx := context.WithValue(r.Context(), IdentityKey, policy.FromUser(user))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
