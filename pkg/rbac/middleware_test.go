package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/contextkeys"
)

func TestPermissionMiddleware_RequirePermission(t *testing.T) {
	store := seed(t)
	guard := NewGuard(store, store)

	var gotErr error
	pm := NewPermissionMiddleware(guard, func(w http.ResponseWriter, r *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusTeapot)
	})

	var gotAuth *auth.AuthContext
	router := mux.NewRouter()
	router.Handle("/workspaces/{workspace_id}/api-keys",
		pm.RequirePermission(auth.PermAPIKeysRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = GetAuthContext(r)
			w.WriteHeader(http.StatusOK)
		})))

	tests := []struct {
		name     string
		userID   string
		wantCode int
		wantKind auth.Kind
	}{
		{"admin allowed", "admin", http.StatusOK, ""},
		{"editor denied", "editor", http.StatusTeapot, auth.KindAuthorization},
		{"outsider", "outsider", http.StatusTeapot, auth.KindMembership},
		{"anonymous", "", http.StatusTeapot, auth.KindAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotErr, gotAuth = nil, nil
			req := httptest.NewRequest(http.MethodGet, "/workspaces/ws-1/api-keys", nil)
			if tt.userID != "" {
				req = req.WithContext(contextkeys.WithUserID(req.Context(), tt.userID))
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantKind == "" {
				assert.NoError(t, gotErr)
				if assert.NotNil(t, gotAuth) {
					assert.Equal(t, auth.IdentitySession, gotAuth.Kind)
					assert.Equal(t, auth.RoleAdmin, gotAuth.Role)
					assert.Equal(t, "ws-1", gotAuth.WorkspaceID)
				}
				return
			}
			assert.Equal(t, tt.wantKind, auth.KindOf(gotErr))
			assert.Nil(t, gotAuth)
		})
	}
}

func TestPermissionMiddleware_RequireMembership(t *testing.T) {
	store := seed(t)
	pm := NewPermissionMiddleware(NewGuard(store, store), func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusNotFound)
	})

	router := mux.NewRouter()
	router.Handle("/workspaces/{workspace_id}/permissions",
		pm.RequireMembership()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(GetAuthContext(r).Role))
		})))

	req := httptest.NewRequest(http.MethodGet, "/workspaces/ws-1/permissions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req.WithContext(contextkeys.WithUserID(req.Context(), "viewer")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "viewer", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/workspaces/ws-2/permissions", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req.WithContext(contextkeys.WithUserID(req.Context(), "viewer")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
