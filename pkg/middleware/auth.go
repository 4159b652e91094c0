package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/ideahub/pkg/apikeys"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/contextkeys"
)

// ErrorWriter renders an authentication or authorization failure
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// KeyAuthenticator resolves a bearer API key. *apikeys.Authenticator satisfies it.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, bearer string) (*auth.AuthInfo, error)
}

// APIKeyMiddleware authenticates bearer API keys for the extension routes
type APIKeyMiddleware struct {
	authenticator KeyAuthenticator
	onError       ErrorWriter
}

// NewAPIKeyMiddleware creates a new API key middleware
func NewAPIKeyMiddleware(authenticator KeyAuthenticator, onError ErrorWriter) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		authenticator: authenticator,
		onError:       onError,
	}
}

// Handler wraps an HTTP handler with API key authentication. A missing or
// malformed header is handed to the authenticator as an empty bearer so every
// rejection looks the same.
func (m *APIKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := m.authenticator.Authenticate(r.Context(), BearerToken(r))
		if err != nil {
			m.onError(w, r, err)
			return
		}

		ctx := contextkeys.WithAuthInfo(r.Context(), info)
		ctx = contextkeys.WithAuth(ctx, apikeys.Context(info))
		if info.User != nil {
			ctx = contextkeys.WithUserID(ctx, info.User.ID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from "Authorization: Bearer <token>"
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetAuthInfo extracts the API key identity from the request
func GetAuthInfo(r *http.Request) *auth.AuthInfo {
	info, _ := r.Context().Value(contextkeys.AuthInfoKey).(*auth.AuthInfo)
	return info
}

// RequireScope creates middleware that checks the authenticated key holds scope
func RequireScope(scope auth.Scope, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := apikeys.RequireScope(GetAuthInfo(r), scope); err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireWritableWorkspace creates middleware that rejects writes through a key
// whose workspace is disabled
func RequireWritableWorkspace(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := apikeys.RequireWritableWorkspace(GetAuthInfo(r)); err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
