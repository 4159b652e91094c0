package apikeys

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/rbac"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

const (
	// MaxNameLength bounds both the key name and the device label, in characters
	MaxNameLength = 100
	// DefaultDevice labels keys issued without a device
	DefaultDevice = "unknown"
)

// GenerateRequest describes a key to issue
type GenerateRequest struct {
	WorkspaceID   string       `json:"-"`
	IssuingUserID string       `json:"-"`
	Name          string       `json:"name"`
	Device        string       `json:"device"`
	Scopes        []auth.Scope `json:"scopes"`
}

// IssuedKey is returned exactly once, at creation. Plaintext is not stored anywhere.
type IssuedKey struct {
	Plaintext string              `json:"token"`
	Key       auth.RedactedAPIKey `json:"key"`
}

// Issuer creates, revokes and lists API keys on behalf of workspace admins.
// Every operation goes through the guard first.
type Issuer struct {
	guard   *rbac.Guard
	keys    storage.APIKeyRepository
	catalog *auth.ScopeCatalog
	tokens  *auth.TokenGenerator
	metrics *observability.Metrics
	audit   audit.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// IssuerOption configures an Issuer
type IssuerOption func(*Issuer)

// WithScopeCatalog validates requested scopes against catalog instead of the built-ins
func WithScopeCatalog(catalog *auth.ScopeCatalog) IssuerOption {
	return func(i *Issuer) { i.catalog = catalog }
}

// WithIssuerMetrics counts issued and revoked keys
func WithIssuerMetrics(m *observability.Metrics) IssuerOption {
	return func(i *Issuer) { i.metrics = m }
}

// WithIssuerAuditLogger records issuance and revocation to logger instead of
// the request's audit logger
func WithIssuerAuditLogger(logger audit.Logger) IssuerOption {
	return func(i *Issuer) { i.audit = logger }
}

// NewIssuer creates a new key issuer
func NewIssuer(guard *rbac.Guard, keys storage.APIKeyRepository, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		guard:   guard,
		keys:    keys,
		catalog: auth.NewScopeCatalog(),
		tokens:  auth.NewTokenGenerator(),
		tracer:  otel.Tracer("ideahub/apikeys"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Generate issues a new key for req.WorkspaceID. The issuer needs
// apikeys:manage there, and every requested scope that is also a role
// permission must be held by the issuer.
func (i *Issuer) Generate(ctx context.Context, req GenerateRequest) (*IssuedKey, error) {
	ctx, span := i.tracer.Start(ctx, "apikeys.Generate", trace.WithAttributes(
		attribute.String("workspace.id", req.WorkspaceID),
	))
	defer span.End()

	m, err := i.guard.RequirePermission(ctx, req.IssuingUserID, req.WorkspaceID, auth.PermAPIKeysManage)
	if err != nil {
		return nil, err
	}

	name, device, scopes, err := i.validate(req)
	if err != nil {
		return nil, err
	}
	for _, s := range scopes {
		perm := auth.Permission(s)
		if auth.IsKnownPermission(perm) && !auth.HasPermission(m.Role, perm) {
			return nil, auth.NewAuthorizationError("scope_exceeds_role",
				fmt.Sprintf("scope %s exceeds the issuer's role", s),
				map[string]string{"scope": string(s), "role": string(m.Role)})
		}
	}

	plaintext, hash, prefix, err := i.tokens.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	key := &auth.APIKey{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		UserID:      req.IssuingUserID,
		Name:        name,
		Device:      device,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		Scopes:      scopes,
		CreatedAt:   i.now(),
	}
	if err := i.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}
	span.SetAttributes(attribute.String("api_key.id", key.ID))

	i.metrics.RecordKeyIssued()
	event := audit.DataMutationEvent(ctx, audit.EventTypeAPIKeyCreate,
		audit.Actor{UserID: req.IssuingUserID, WorkspaceID: req.WorkspaceID, APIKeyID: key.ID},
		audit.ResourceTypeAPIKey, key.ID, "api key issued")
	event.Metadata["name"] = name
	event.Metadata["key_prefix"] = prefix
	i.auditLogger(ctx).Log(ctx, event)

	return &IssuedKey{Plaintext: plaintext, Key: key.Redact()}, nil
}

func (i *Issuer) validate(req GenerateRequest) (string, string, []auth.Scope, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", "", nil, auth.NewValidationError("name_required", "name is required", nil)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", "", nil, auth.NewValidationError("name_too_long",
			fmt.Sprintf("name must be at most %d characters", MaxNameLength), nil)
	}

	device := strings.TrimSpace(req.Device)
	if device == "" {
		device = DefaultDevice
	}
	if utf8.RuneCountInString(device) > MaxNameLength {
		return "", "", nil, auth.NewValidationError("device_too_long",
			fmt.Sprintf("device must be at most %d characters", MaxNameLength), nil)
	}

	scopes, err := i.catalog.Normalize(req.Scopes)
	if err != nil {
		return "", "", nil, err
	}
	return name, device, scopes, nil
}

// Revoke marks a key revoked. Revoking an already revoked key is a no-op.
func (i *Issuer) Revoke(ctx context.Context, keyID, actingUserID string) error {
	_, err := i.revoke(ctx, "", keyID, actingUserID)
	return err
}

// RevokeInWorkspace revokes a key only if it belongs to workspaceID; keys from
// other workspaces are reported as not found.
func (i *Issuer) RevokeInWorkspace(ctx context.Context, workspaceID, keyID, actingUserID string) error {
	_, err := i.revoke(ctx, workspaceID, keyID, actingUserID)
	return err
}

func (i *Issuer) revoke(ctx context.Context, workspaceID, keyID, actingUserID string) (bool, error) {
	ctx, span := i.tracer.Start(ctx, "apikeys.Revoke", trace.WithAttributes(
		attribute.String("api_key.id", keyID),
	))
	defer span.End()

	key, err := i.keys.GetAPIKey(ctx, keyID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, keyNotFound(keyID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load api key: %w", err)
	}
	if workspaceID != "" && key.WorkspaceID != workspaceID {
		return false, keyNotFound(keyID)
	}

	if _, err := i.guard.RequirePermission(ctx, actingUserID, key.WorkspaceID, auth.PermAPIKeysManage); err != nil {
		return false, err
	}

	revoked, err := i.keys.RevokeAPIKey(ctx, keyID, i.now())
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	if !revoked {
		return false, nil
	}

	i.metrics.RecordKeyRevoked()
	i.auditLogger(ctx).Log(ctx, audit.DataMutationEvent(ctx, audit.EventTypeAPIKeyRevoke,
		audit.Actor{UserID: actingUserID, WorkspaceID: key.WorkspaceID, APIKeyID: key.ID},
		audit.ResourceTypeAPIKey, key.ID, "api key revoked"))
	return true, nil
}

// List returns the workspace's keys, newest first, without hashes. It needs
// apikeys:read and so keeps working on a disabled workspace.
func (i *Issuer) List(ctx context.Context, workspaceID, actingUserID string) ([]auth.RedactedAPIKey, error) {
	if _, err := i.guard.RequirePermission(ctx, actingUserID, workspaceID, auth.PermAPIKeysRead); err != nil {
		return nil, err
	}

	keys, err := i.keys.ListAPIKeys(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}

	out := make([]auth.RedactedAPIKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Redact())
	}
	return out, nil
}

func (i *Issuer) auditLogger(ctx context.Context) audit.Logger {
	if i.audit != nil {
		return i.audit
	}
	return audit.FromContext(ctx)
}

func keyNotFound(keyID string) error {
	return auth.NewValidationError("key_not_found", "api key not found", map[string]string{"key_id": keyID})
}
