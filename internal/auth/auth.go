// Package auth resolves the verified caller identity on every request.
// Identity issuance itself lives outside this service; the bearer token is
// an opaque user id minted by the external identity provider.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sajilotask/sajilo/internal/user"
	"github.com/sajilotask/sajilo/pkg/cerr"
)

type callerKey struct{}

// CallerFromContext returns the authenticated user injected by Middleware.
func CallerFromContext(ctx context.Context) (*user.User, error) {
	if u, ok := ctx.Value(callerKey{}).(*user.User); ok {
		return u, nil
	}
	return nil, cerr.NewError(cerr.Unauthenticated, "authentication required", nil)
}

func contextWithCaller(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, callerKey{}, u)
}

// Middleware resolves the Authorization bearer token against the user
// repository and injects the caller into the request context. Requests
// without a valid identity are rejected before reaching any handler.
func Middleware(users user.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r)
			if !ok {
				cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
				return
			}
			u, err := users.Get(ctx, token)
			if err != nil {
				if cerr.IsCode(err, cerr.NotFound) {
					cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "unknown identity", err)
					return
				}
				cerr.SetJSONError(ctx, err)
				return
			}
			next.ServeHTTP(rw, r.WithContext(contextWithCaller(ctx, u)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// RequireAdmin guards admin-only routes. Must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, err := CallerFromContext(ctx)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		if !caller.IsAdmin() {
			cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "admin only", nil)
			return
		}
		next.ServeHTTP(rw, r)
	})
}
