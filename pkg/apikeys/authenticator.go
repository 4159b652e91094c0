package apikeys

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

const authMethod = "api_key"

// Authenticator resolves bearer tokens into machine identities
type Authenticator struct {
	keys        storage.APIKeyRepository
	users       storage.UserRepository
	workspaces  storage.WorkspaceRepository
	memberships storage.MembershipRepository
	toucher     Toucher
	metrics     *observability.Metrics
	audit       audit.Logger
	tracer      trace.Tracer
}

// AuthenticatorOption configures an Authenticator
type AuthenticatorOption func(*Authenticator)

// WithToucher records last-used timestamps through t
func WithToucher(t Toucher) AuthenticatorOption {
	return func(a *Authenticator) { a.toucher = t }
}

// WithAuthenticatorMetrics counts authentication attempts
func WithAuthenticatorMetrics(m *observability.Metrics) AuthenticatorOption {
	return func(a *Authenticator) { a.metrics = m }
}

// WithAuthenticatorAuditLogger records failed validations to logger instead of
// the request's audit logger
func WithAuthenticatorAuditLogger(logger audit.Logger) AuthenticatorOption {
	return func(a *Authenticator) { a.audit = logger }
}

// NewAuthenticator creates an authenticator. Without WithToucher last-used
// timestamps are not recorded.
func NewAuthenticator(keys storage.APIKeyRepository, users storage.UserRepository, workspaces storage.WorkspaceRepository,
	memberships storage.MembershipRepository, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		keys:        keys,
		users:       users,
		workspaces:  workspaces,
		memberships: memberships,
		toucher:     NopToucher{},
		tracer:      otel.Tracer("ideahub/apikeys"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// errInvalidKey is what callers see for every rejected token, whatever the cause
func errInvalidKey() *auth.Error {
	return auth.NewAuthenticationError("invalid_api_key", "invalid API key")
}

// Authenticate resolves a bearer token. Malformed, unknown and revoked tokens
// all fail with the same authentication error and a nil AuthInfo. Storage
// failures are returned wrapped so they surface as server errors.
func (a *Authenticator) Authenticate(ctx context.Context, bearer string) (*auth.AuthInfo, error) {
	ctx, span := a.tracer.Start(ctx, "apikeys.Authenticate")
	defer span.End()

	if bearer == "" {
		return nil, a.reject(ctx, span, nil, "missing token")
	}
	if err := auth.ValidateTokenFormat(bearer); err != nil {
		return nil, a.reject(ctx, span, nil, err.Error())
	}

	hash := auth.HashToken(bearer)
	key, err := a.keys.GetAPIKeyByHash(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, a.reject(ctx, span, nil, "unknown key")
	}
	if err != nil {
		return nil, a.fail(span, fmt.Errorf("failed to look up api key: %w", err))
	}
	if !auth.CompareHashes(key.KeyHash, hash) {
		return nil, a.reject(ctx, span, nil, "hash mismatch")
	}
	if !key.IsActive() {
		return nil, a.reject(ctx, span, key, "revoked key")
	}
	span.SetAttributes(
		attribute.String("api_key.id", key.ID),
		attribute.String("workspace.id", key.WorkspaceID),
	)

	var (
		user *auth.User
		ws   *auth.Workspace
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = a.users.GetUser(gctx, key.UserID)
		return err
	})
	g.Go(func() error {
		var err error
		ws, err = a.workspaces.GetWorkspace(gctx, key.WorkspaceID)
		return err
	})
	// A key stops working once its issuer leaves the workspace.
	g.Go(func() error {
		_, err := a.memberships.GetMembership(gctx, key.WorkspaceID, key.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, a.reject(ctx, span, key, "owner, workspace or membership missing")
		}
		return nil, a.fail(span, fmt.Errorf("failed to resolve api key owner: %w", err))
	}

	a.metrics.RecordAuthAttempt(authMethod, "success")
	a.toucher.Touch(ctx, key.ID)

	return &auth.AuthInfo{
		Key:       key,
		User:      user,
		Workspace: ws,
		Scopes:    append([]auth.Scope(nil), key.Scopes...),
	}, nil
}

func (a *Authenticator) reject(ctx context.Context, span trace.Span, key *auth.APIKey, reason string) error {
	a.metrics.RecordAuthAttempt(authMethod, "failure")
	span.SetAttributes(attribute.String("auth.failure", reason))

	actor := audit.Actor{}
	if key != nil {
		actor = audit.Actor{UserID: key.UserID, WorkspaceID: key.WorkspaceID, APIKeyID: key.ID}
	}
	event := audit.AuthenticationEvent(ctx, audit.EventTypeAPIKeyValidateFail, actor, audit.EventStatusFailure, "api key rejected")
	event.ErrorMessage = reason
	a.auditLogger(ctx).Log(ctx, event)

	return errInvalidKey()
}

func (a *Authenticator) fail(span trace.Span, err error) error {
	a.metrics.RecordAuthAttempt(authMethod, "error")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (a *Authenticator) auditLogger(ctx context.Context) audit.Logger {
	if a.audit != nil {
		return a.audit
	}
	return audit.FromContext(ctx)
}

// RequireScope checks the scopes granted to a resolved key. It never looks at
// roles: a key's capabilities are fixed at issuance.
func RequireScope(info *auth.AuthInfo, scope auth.Scope) error {
	if info == nil {
		return errInvalidKey()
	}
	if !info.HasScope(scope) {
		details := map[string]string{"scope": string(scope)}
		if info.Key != nil {
			details["api_key_id"] = info.Key.ID
		}
		return auth.NewAuthorizationError("missing_scope", fmt.Sprintf("scope %s required", scope), details)
	}
	return nil
}

// RequireWritableWorkspace refuses write operations made with a key whose
// workspace is disabled
func RequireWritableWorkspace(info *auth.AuthInfo) error {
	if info == nil {
		return errInvalidKey()
	}
	if info.Workspace != nil && info.Workspace.Disabled {
		return auth.NewAuthorizationError("workspace_disabled", "workspace is disabled",
			map[string]string{"workspace_id": info.Workspace.ID})
	}
	return nil
}

// Context builds the downstream view of a resolved key
func Context(info *auth.AuthInfo) *auth.AuthContext {
	return &auth.AuthContext{
		Kind:        auth.IdentityAPIKey,
		UserID:      info.Key.UserID,
		WorkspaceID: info.Key.WorkspaceID,
		Scopes:      info.Scopes,
		APIKey:      info.Key,
		Workspace:   info.Workspace,
	}
}
