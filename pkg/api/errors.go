package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/capture"
	"github.com/platinummonkey/ideahub/pkg/httputil"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
)

const (
	msgUnauthorized      = "unauthorized"
	msgWorkspaceNotFound = "workspace not found"
	msgInternal          = "internal server error"
)

// writeAuthError is the only place typed errors become status codes. Membership
// failures and unknown workspaces share one 404 so workspace ids can't be
// probed. Details stay in the logs.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context())

	switch auth.KindOf(err) {
	case auth.KindAuthentication:
		httputil.WriteDetailedError(w, http.StatusUnauthorized, msgUnauthorized, auth.CodeOf(err), nil)
		return
	case auth.KindAuthorization:
		httputil.WriteDetailedError(w, http.StatusForbidden, "forbidden", auth.CodeOf(err), nil)
		return
	case auth.KindMembership, auth.KindWorkspaceNotFound:
		httputil.WriteNotFoundError(w, msgWorkspaceNotFound)
		return
	case auth.KindValidation:
		var authErr *auth.Error
		errors.As(err, &authErr)
		status := http.StatusBadRequest
		if authErr.Code == "key_not_found" {
			status = http.StatusNotFound
		}
		httputil.WriteDetailedError(w, status, authErr.Message, authErr.Code, nil)
		return
	}

	switch {
	case errors.Is(err, capture.ErrTaskNotFound):
		httputil.WriteNotFoundError(w, "task not found")
	case errors.Is(err, storage.ErrConflict):
		httputil.WriteErrorMessage(w, http.StatusConflict, "conflict")
	default:
		logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, msgInternal)
	}
}

// writeBearerError answers every authentication failure on the extension
// routes with the same body, whatever the reason.
func writeBearerError(w http.ResponseWriter, r *http.Request, err error) {
	if auth.KindOf(err) == auth.KindAuthentication {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}
	writeAuthError(w, r, err)
}
