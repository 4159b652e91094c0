package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/capture"
	"github.com/platinummonkey/ideahub/pkg/httputil"
	"github.com/platinummonkey/ideahub/pkg/middleware"
	"github.com/platinummonkey/ideahub/pkg/observability"
)

// ExtensionHandlers serves the routes the browser extension calls with a
// bearer API key
type ExtensionHandlers struct {
	apiKeys   *middleware.APIKeyMiddleware
	captures  capture.Service
	rateLimit *middleware.RateLimitMiddleware
}

// NewExtensionHandlers creates the bearer-authenticated handlers. rateLimit may be nil.
func NewExtensionHandlers(authenticator middleware.KeyAuthenticator, captures capture.Service, rateLimit *middleware.RateLimitMiddleware) *ExtensionHandlers {
	return &ExtensionHandlers{
		apiKeys:   middleware.NewAPIKeyMiddleware(authenticator, writeBearerError),
		captures:  captures,
		rateLimit: rateLimit,
	}
}

// RegisterRoutes registers the extension routes
func (h *ExtensionHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/auth", h.bearer()(http.HandlerFunc(h.authenticate))).Methods(http.MethodPost)

	router.Handle("/capture", h.bearer(
		middleware.RequireScope(auth.ScopeClipperWrite, writeBearerError),
		middleware.RequireWritableWorkspace(writeBearerError),
	)(http.HandlerFunc(h.capture))).Methods(http.MethodPost)

	router.Handle("/task/{id}", h.bearer()(http.HandlerFunc(h.getTask))).Methods(http.MethodGet)
}

// bearer charges the client IP, authenticates, charges the key, then runs
// the extra checks
func (h *ExtensionHandlers) bearer(extra ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if h.rateLimit == nil {
		return httputil.Chain(append([]func(http.Handler) http.Handler{h.apiKeys.Handler}, extra...)...)
	}
	chain := []func(http.Handler) http.Handler{h.rateLimit.Handler, h.apiKeys.Handler, h.rateLimit.KeyHandler}
	return httputil.Chain(append(chain, extra...)...)
}

type authResponse struct {
	Workspace workspaceSummary `json:"workspace"`
	User      userSummary      `json:"user"`
	Scopes    []auth.Scope     `json:"scopes"`
}

type workspaceSummary struct {
	ID   string             `json:"id"`
	Name string             `json:"name"`
	Kind auth.WorkspaceKind `json:"kind"`
}

type userSummary struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// authenticate handles POST /auth. The extension calls it to check a pasted key.
func (h *ExtensionHandlers) authenticate(w http.ResponseWriter, r *http.Request) {
	info := middleware.GetAuthInfo(r)

	resp := authResponse{Scopes: info.Scopes}
	if resp.Scopes == nil {
		resp.Scopes = []auth.Scope{}
	}
	if info.Workspace != nil {
		resp.Workspace = workspaceSummary{ID: info.Workspace.ID, Name: info.Workspace.Name, Kind: info.Workspace.Kind}
	}
	if info.User != nil {
		resp.User = userSummary{Name: info.User.Name, Email: info.User.Email}
	}
	httputil.WriteSuccess(w, resp)
}

type captureRequest struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

type captureResponse struct {
	ID     string        `json:"id"`
	Status capture.State `json:"status"`
}

// capture handles POST /capture
func (h *ExtensionHandlers) capture(w http.ResponseWriter, r *http.Request) {
	var body captureRequest
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	info := middleware.GetAuthInfo(r)
	req := capture.Request{
		WorkspaceID: info.Key.WorkspaceID,
		UserID:      info.Key.UserID,
		APIKeyID:    info.Key.ID,
		URL:         body.URL,
		Title:       body.Title,
		Content:     body.Content,
		Tags:        body.Tags,
	}
	if err := capture.Validate(req); err != nil {
		writeAuthError(w, r, err)
		return
	}

	ctx, span := observability.Tracer().Start(r.Context(), "capture.enqueue")
	span.SetAttributes(attribute.String("workspace_id", req.WorkspaceID))
	taskID, err := h.captures.Capture(ctx, req)
	span.End()
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	actor := audit.Actor{UserID: req.UserID, WorkspaceID: req.WorkspaceID, APIKeyID: req.APIKeyID}
	audit.Record(r.Context(), audit.DataMutationEvent(r.Context(), audit.EventTypeCaptureCreate, actor,
		audit.ResourceTypeCapture, taskID, "capture queued"))

	httputil.WriteAccepted(w, captureResponse{ID: taskID, Status: capture.StateQueued})
}

// getTask handles GET /task/{id}. Tasks of other workspaces look unknown.
func (h *ExtensionHandlers) getTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	info := middleware.GetAuthInfo(r)
	task, err := h.captures.Task(r.Context(), info.Key.WorkspaceID, taskID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, task)
}
