package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAPIKey_Redact(t *testing.T) {
	now := time.Now()
	key := &APIKey{
		ID:          "key-1",
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Name:        "Chrome",
		Device:      "chrome_extension",
		KeyHash:     HashToken("ih_secret"),
		KeyPrefix:   "ih_secret",
		Scopes:      []Scope{ScopeClipperWrite},
		CreatedAt:   now,
	}

	redacted := key.Redact()
	if redacted.ID != key.ID || redacted.KeyPrefix != key.KeyPrefix || redacted.Device != key.Device {
		t.Errorf("Redact() lost fields: %+v", redacted)
	}

	redacted.Scopes[0] = ScopeIdeasWrite
	if key.Scopes[0] != ScopeClipperWrite {
		t.Error("Redact() must copy scopes")
	}

	data, err := json.Marshal(redacted)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if strings.Contains(string(data), key.KeyHash) {
		t.Error("redacted key JSON contains the hash")
	}

	data, err = json.Marshal(key)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if strings.Contains(string(data), key.KeyHash) {
		t.Error("APIKey JSON must never contain the hash")
	}
}

func TestAPIKey_IsActive(t *testing.T) {
	key := &APIKey{}
	if !key.IsActive() {
		t.Error("key without revoked_at should be active")
	}
	now := time.Now()
	key.RevokedAt = &now
	if key.IsActive() {
		t.Error("revoked key should not be active")
	}
}

func TestAuthInfo_HasScope(t *testing.T) {
	info := &AuthInfo{Scopes: []Scope{ScopeClipperWrite, ScopeIdeasRead}}
	if !info.HasScope(ScopeClipperWrite) {
		t.Error("expected clipper:write")
	}
	if info.HasScope(ScopeIdeasWrite) {
		t.Error("did not expect ideas:write")
	}
	var nilInfo *AuthInfo
	if nilInfo.HasScope(ScopeIdeasRead) {
		t.Error("nil AuthInfo has no scopes")
	}
}

func TestError_KindsAndSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		sentinel error
	}{
		{"authentication", NewAuthenticationError("invalid_api_key", "invalid api key"), KindAuthentication, ErrAuthentication},
		{"authorization", NewAuthorizationError("missing_scope", "missing scope", nil), KindAuthorization, ErrAuthorization},
		{"not found", NewWorkspaceNotFoundError("ws-1"), KindWorkspaceNotFound, ErrWorkspaceNotFound},
		{"membership", NewMembershipError("u-1", "ws-1"), KindMembership, ErrMembership},
		{"validation", NewValidationError("name_required", "name is required", nil), KindValidation, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if KindOf(wrapped) != tt.kind {
				t.Errorf("KindOf() = %q, want %q", KindOf(wrapped), tt.kind)
			}
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
			if errors.Is(wrapped, errUnrelated) {
				t.Error("matched an unrelated sentinel")
			}
		})
	}
}

var errUnrelated = errors.New("unrelated")

func TestError_DetailsAndUnwrap(t *testing.T) {
	err := NewMembershipError("u-1", "ws-9")
	if err.Details["workspace_id"] != "ws-9" {
		t.Errorf("details = %v", err.Details)
	}
	if CodeOf(err) != "not_a_member" {
		t.Errorf("CodeOf() = %q", CodeOf(err))
	}

	cause := errors.New("db down")
	wrapped := &Error{Kind: KindAuthentication, Code: "x", Message: "lookup failed", Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("Unwrap should expose the cause")
	}
	if !strings.Contains(wrapped.Error(), "db down") {
		t.Errorf("Error() = %q", wrapped.Error())
	}

	if KindOf(errors.New("plain")) != "" || CodeOf(nil) != "" {
		t.Error("plain errors have no kind or code")
	}
}
