package rbac

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/contextkeys"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

// Permission check results, used as metric labels
const (
	resultAllowed  = "allowed"
	resultDenied   = "denied"
	resultDisabled = "disabled"
	resultNoMember = "not_member"
	resultError    = "error"
)

// Guard is the single choke point for session-authenticated workspace access.
// It holds no state between calls: every check reads the workspace and the
// membership from the store, so revocations and disables apply immediately.
type Guard struct {
	workspaces  storage.WorkspaceRepository
	memberships storage.MembershipRepository
	metrics     *observability.Metrics
	audit       audit.Logger
	tracer      trace.Tracer
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithMetrics records every decision on the permission check counter
func WithMetrics(m *observability.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithAuditLogger sends denials to logger instead of the request's audit logger
func WithAuditLogger(logger audit.Logger) GuardOption {
	return func(g *Guard) { g.audit = logger }
}

// NewGuard creates a guard backed by the given repositories
func NewGuard(workspaces storage.WorkspaceRepository, memberships storage.MembershipRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		workspaces:  workspaces,
		memberships: memberships,
		tracer:      otel.Tracer("ideahub/rbac"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequireUserID returns the session user id carried by ctx
func (g *Guard) RequireUserID(ctx context.Context) (string, error) {
	userID := contextkeys.GetUserID(ctx)
	if userID == "" {
		return "", auth.NewAuthenticationError("session_required", "authentication required")
	}
	return userID, nil
}

// AssertMembership loads the workspace and the caller's membership in it. The
// returned membership has its Workspace attached.
func (g *Guard) AssertMembership(ctx context.Context, userID, workspaceID string) (*auth.Membership, error) {
	if userID == "" {
		return nil, auth.NewAuthenticationError("session_required", "authentication required")
	}

	ws, err := g.workspaces.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, auth.NewWorkspaceNotFoundError(workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace %s: %w", workspaceID, err)
	}

	m, err := g.memberships.GetMembership(ctx, workspaceID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, auth.NewMembershipError(userID, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}

	m.Workspace = ws
	return m, nil
}

// CheckPermission reports whether userID holds perm in workspaceID. A missing
// permission is (false, nil); a missing workspace or membership is an error.
// Write-intent permissions are never granted on a disabled workspace.
func (g *Guard) CheckPermission(ctx context.Context, userID, workspaceID string, perm auth.Permission) (bool, error) {
	_, result, err := g.evaluate(ctx, userID, workspaceID, perm)
	if err != nil {
		return false, err
	}
	return result == resultAllowed, nil
}

// RequirePermission is the hard-fail form of CheckPermission
func (g *Guard) RequirePermission(ctx context.Context, userID, workspaceID string, perm auth.Permission) (*auth.Membership, error) {
	m, result, err := g.evaluate(ctx, userID, workspaceID, perm)
	if err != nil {
		return nil, err
	}

	details := map[string]string{
		"user_id":      userID,
		"workspace_id": workspaceID,
		"permission":   string(perm),
		"role":         string(m.Role),
	}
	switch result {
	case resultDisabled:
		return nil, auth.NewAuthorizationError("workspace_disabled", "workspace is disabled", details)
	case resultDenied:
		return nil, auth.NewAuthorizationError("missing_permission",
			fmt.Sprintf("permission %s required", perm), details)
	}
	return m, nil
}

// RequireRole requires at least minRole in workspaceID. Like write-intent
// permissions it is refused on a disabled workspace.
func (g *Guard) RequireRole(ctx context.Context, userID, workspaceID string, minRole auth.Role) (*auth.Membership, error) {
	if !minRole.IsValid() {
		return nil, auth.NewValidationError("invalid_role", fmt.Sprintf("unknown role %q", minRole), nil)
	}

	ctx, span := g.tracer.Start(ctx, "rbac.RequireRole", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID),
		attribute.String("role.required", string(minRole)),
	))
	defer span.End()

	m, err := g.AssertMembership(ctx, userID, workspaceID)
	if err != nil {
		g.recordFailure(ctx, span, userID, workspaceID, "role:"+string(minRole), err)
		return nil, err
	}

	details := map[string]string{
		"user_id":       userID,
		"workspace_id":  workspaceID,
		"role":          string(m.Role),
		"required_role": string(minRole),
	}
	if !auth.CanAccess(m.Role, minRole) {
		g.deny(ctx, span, m, "role:"+string(minRole), resultDenied)
		return nil, auth.NewAuthorizationError("insufficient_role",
			fmt.Sprintf("role %s or higher required", minRole), details)
	}
	if m.Workspace.Disabled {
		g.deny(ctx, span, m, "role:"+string(minRole), resultDisabled)
		return nil, auth.NewAuthorizationError("workspace_disabled", "workspace is disabled", details)
	}

	g.metrics.RecordPermissionCheck("role:"+string(minRole), resultAllowed)
	return m, nil
}

// evaluate resolves the membership and classifies the decision for perm
func (g *Guard) evaluate(ctx context.Context, userID, workspaceID string, perm auth.Permission) (*auth.Membership, string, error) {
	ctx, span := g.tracer.Start(ctx, "rbac.CheckPermission", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID),
		attribute.String("permission", string(perm)),
	))
	defer span.End()

	m, err := g.AssertMembership(ctx, userID, workspaceID)
	if err != nil {
		g.recordFailure(ctx, span, userID, workspaceID, string(perm), err)
		return nil, "", err
	}
	span.SetAttributes(attribute.String("role", string(m.Role)))

	if !auth.HasPermission(m.Role, perm) {
		g.deny(ctx, span, m, string(perm), resultDenied)
		return m, resultDenied, nil
	}
	if m.Workspace.Disabled && auth.IsWriteIntent(perm) {
		g.deny(ctx, span, m, string(perm), resultDisabled)
		return m, resultDisabled, nil
	}

	g.metrics.RecordPermissionCheck(string(perm), resultAllowed)
	return m, resultAllowed, nil
}

func (g *Guard) deny(ctx context.Context, span trace.Span, m *auth.Membership, what, result string) {
	span.SetAttributes(attribute.String("decision", result))
	g.metrics.RecordPermissionCheck(what, result)

	event := audit.AuthorizationEvent(ctx,
		audit.Actor{UserID: m.UserID, WorkspaceID: m.WorkspaceID},
		audit.ResourceTypePermission, what, audit.EventStatusDenied,
		fmt.Sprintf("%s denied for role %s", what, m.Role))
	event.Metadata["result"] = result
	g.auditLogger(ctx).Log(ctx, event)
}

func (g *Guard) recordFailure(ctx context.Context, span trace.Span, userID, workspaceID, what string, err error) {
	switch auth.KindOf(err) {
	case auth.KindMembership, auth.KindWorkspaceNotFound:
		g.metrics.RecordPermissionCheck(what, resultNoMember)
		event := audit.AuthorizationEvent(ctx,
			audit.Actor{UserID: userID, WorkspaceID: workspaceID},
			audit.ResourceTypeWorkspace, workspaceID, audit.EventStatusDenied, err.Error())
		g.auditLogger(ctx).Log(ctx, event)
	case auth.KindAuthentication:
		g.metrics.RecordPermissionCheck(what, resultDenied)
	default:
		g.metrics.RecordPermissionCheck(what, resultError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (g *Guard) auditLogger(ctx context.Context) audit.Logger {
	if g.audit != nil {
		return g.audit
	}
	return audit.FromContext(ctx)
}
