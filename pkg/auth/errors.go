package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authorization failure
type Kind string

const (
	KindAuthentication    Kind = "authentication"
	KindAuthorization     Kind = "authorization"
	KindWorkspaceNotFound Kind = "workspace_not_found"
	KindMembership        Kind = "membership"
	KindValidation        Kind = "validation"
)

// Sentinels for errors.Is; every *Error matches the sentinel of its Kind.
var (
	ErrAuthentication    = errors.New("authentication required")
	ErrAuthorization     = errors.New("not authorized")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrMembership        = errors.New("not a member of workspace")
	ErrValidation        = errors.New("validation failed")
)

var kindSentinels = map[Kind]error{
	KindAuthentication:    ErrAuthentication,
	KindAuthorization:     ErrAuthorization,
	KindWorkspaceNotFound: ErrWorkspaceNotFound,
	KindMembership:        ErrMembership,
	KindValidation:        ErrValidation,
}

// Error is the typed failure returned by the guard, issuer and authenticator.
// Details are meant for server-side logs and must not be echoed to callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind Kind, code, message string, details map[string]string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

// NewAuthenticationError reports that no usable identity was presented
func NewAuthenticationError(code, message string) *Error {
	return newError(KindAuthentication, code, message, nil)
}

// NewAuthorizationError reports a known identity lacking a permission or scope
func NewAuthorizationError(code, message string, details map[string]string) *Error {
	return newError(KindAuthorization, code, message, details)
}

// NewWorkspaceNotFoundError reports a reference to a workspace that does not exist
func NewWorkspaceNotFoundError(workspaceID string) *Error {
	return newError(KindWorkspaceNotFound, "workspace_not_found", "workspace not found",
		map[string]string{"workspace_id": workspaceID})
}

// NewMembershipError reports a known identity with no relationship to a workspace
func NewMembershipError(userID, workspaceID string) *Error {
	return newError(KindMembership, "not_a_member", "user is not a member of the workspace",
		map[string]string{"user_id": userID, "workspace_id": workspaceID})
}

// NewValidationError reports malformed input
func NewValidationError(code, message string, details map[string]string) *Error {
	return newError(KindValidation, code, message, details)
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// CodeOf returns the stable machine-readable code of err, or ""
func CodeOf(err error) string {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}
