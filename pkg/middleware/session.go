package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/contextkeys"
	"github.com/platinummonkey/ideahub/pkg/observability"
)

// SessionCookie is the cookie the web app stores its session token in
const SessionCookie = "ideahub_session"

// SessionMiddleware verifies HS256 session tokens and records the session
// user id on the request context. It never rejects a request: routes that
// need a user call rbac.Guard.RequireUserID.
type SessionMiddleware struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	logger *observability.Logger
}

// NewSessionMiddleware creates a session middleware for tokens signed with secret
func NewSessionMiddleware(secret []byte, issuer string, logger *observability.Logger) *SessionMiddleware {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &SessionMiddleware{
		secret: secret,
		issuer: issuer,
		parser: jwt.NewParser(opts...),
		logger: logger,
	}
}

// Handler wraps an HTTP handler with session verification
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := sessionToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := m.Verify(raw)
		if err != nil {
			m.logger.WithError(err).Debug("session token rejected")
			audit.Record(r.Context(), audit.AuthenticationEvent(r.Context(), audit.EventTypeSessionFail,
				audit.Actor{}, audit.EventStatusFailure, err.Error()))
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkeys.WithUserID(r.Context(), userID)))
	})
}

// Verify parses a session token and returns its subject
func (m *SessionMiddleware) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := m.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid session token: missing subject")
	}
	return claims.Subject, nil
}

// sessionToken prefers a non API key bearer token, then the session cookie
func sessionToken(r *http.Request) string {
	if bearer := BearerToken(r); bearer != "" && !auth.IsAPIKeyToken(bearer) {
		return bearer
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// SignSession issues a session token for userID. The web app owns sign-in;
// this exists for tooling and tests that share the secret.
func SignSession(secret []byte, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
