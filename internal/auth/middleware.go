// internal/auth/middleware.go
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"extension-sync/internal/model"
)

type contextKey string

const userKey contextKey = "user"

// Validator is what RequireAuth needs from a TokenService.
type Validator interface {
	Validate(tokenStr string) (*model.User, error)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer" token
// and stores the caller in the request context.
func RequireAuth(tokens Validator, onError func(w http.ResponseWriter, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := userFromRequest(r, tokens)
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated caller, if any.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userKey).(*model.User)
	return user, ok && user != nil
}

func userFromRequest(r *http.Request, tokens Validator) (*model.User, error) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, errors.New("missing bearer token")
	}
	return tokens.Validate(strings.TrimSpace(token))
}
