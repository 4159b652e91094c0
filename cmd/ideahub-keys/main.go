package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ideahub/pkg/apikeys"
	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/contextkeys"
	"github.com/platinummonkey/ideahub/pkg/rbac"
	"github.com/platinummonkey/ideahub/pkg/storage"
	"github.com/platinummonkey/ideahub/pkg/storage/postgres"
)

const usage = `Usage: ideahub-keys [global flags] <command> [flags]

Commands:
  migrate                                   apply the database schema
  provision --user-id --name [--email]      create a user and their personal workspace
  member    --workspace --user --role --by  add a member to a workspace
  issue     --workspace --user --name [--device] --scopes
  revoke    --key --user
  list      --workspace --user
  disable   --workspace
  enable    --workspace
  audit     [--workspace] [--user] [--since] [--limit] [--format]
  audit-cleanup --retention

Global flags:
`

func main() {
	global := flag.NewFlagSet("ideahub-keys", flag.ExitOnError)
	dbURL := global.String("db-url", getEnv("IDEAHUB_POSTGRES_URL", "postgres://localhost/ideahub?sslmode=disable"), "PostgreSQL connection URL")
	logLevel := global.String("log-level", "info", "Log level")
	global.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		global.PrintDefaults()
	}
	_ = global.Parse(os.Args[1:])

	logger := setupLogger(*logLevel)

	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := connectDatabase(ctx, *dbURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if global.Arg(0) == "migrate" {
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatalf("Migration failed: %v", err)
		}
		logger.Info("Schema is up to date")
		return
	}

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		logger.Fatalf("Failed to create audit logger: %v", err)
	}
	a := newApp(postgres.NewFromDB(db), dbAudit, os.Stdout, logger)
	a.events = dbAudit
	if err := a.run(ctx, global.Args()); err != nil {
		logger.Fatalf("%s: %v", global.Arg(0), err)
	}
}

// app runs the admin subcommands. Key management goes through the same
// Issuer and Guard as the HTTP API, acting as the user named by --user.
type app struct {
	store  storage.Store
	guard  *rbac.Guard
	issuer *apikeys.Issuer
	events eventStore
	out    io.Writer
	log    *logrus.Logger
}

// eventStore is satisfied by *audit.DBLogger
type eventStore interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

func newApp(store storage.Store, auditLogger audit.Logger, out io.Writer, log *logrus.Logger) *app {
	guard := rbac.NewGuard(store, store, rbac.WithAuditLogger(auditLogger))
	return &app{
		store:  store,
		guard:  guard,
		issuer: apikeys.NewIssuer(guard, store, apikeys.WithIssuerAuditLogger(auditLogger)),
		out:    out,
		log:    log,
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("no command given")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "provision":
		return a.provision(ctx, rest)
	case "member":
		return a.member(ctx, rest)
	case "issue":
		return a.issue(ctx, rest)
	case "revoke":
		return a.revoke(ctx, rest)
	case "list":
		return a.list(ctx, rest)
	case "disable":
		return a.setDisabled(ctx, rest, true)
	case "enable":
		return a.setDisabled(ctx, rest, false)
	case "audit":
		return a.auditEvents(ctx, rest)
	case "audit-cleanup":
		return a.auditCleanup(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) provision(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	userID := fs.String("user-id", "", "User id")
	name := fs.String("name", "", "Display name")
	email := fs.String("email", "", "Email address")
	workspaceID := fs.String("workspace-id", "", "Workspace id (default: a new UUID)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *name == "" {
		return errors.New("--user-id and --name are required")
	}
	if *workspaceID == "" {
		*workspaceID = uuid.NewString()
	}
	if err := requireIDs(idFlag{"user-id", *userID}, idFlag{"workspace-id", *workspaceID}); err != nil {
		return err
	}

	user := &auth.User{ID: *userID, Name: *name, Email: *email}
	ws := &auth.Workspace{ID: *workspaceID, Name: *name}
	if err := a.store.ProvisionPersonalWorkspace(ctx, user, ws); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"user": user.ID, "workspace": ws.ID}).Info("Provisioned personal workspace")
	fmt.Fprintln(a.out, ws.ID)
	return nil
}

func (a *app) member(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("member", flag.ContinueOnError)
	workspaceID := fs.String("workspace", "", "Workspace id")
	userID := fs.String("user", "", "User id of the new member")
	role := fs.String("role", string(auth.RoleViewer), "Role: owner, admin, editor or viewer")
	invitedBy := fs.String("by", "", "User id of the inviting member")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workspaceID == "" || *userID == "" || *invitedBy == "" {
		return errors.New("--workspace, --user and --by are required")
	}
	if err := requireIDs(idFlag{"workspace", *workspaceID}, idFlag{"user", *userID}, idFlag{"by", *invitedBy}); err != nil {
		return err
	}
	r, err := auth.ParseRole(*role)
	if err != nil {
		return err
	}

	ctx = contextkeys.WithUserID(ctx, *invitedBy)
	acting, err := a.guard.RequireUserID(ctx)
	if err != nil {
		return err
	}
	if _, err := a.guard.RequirePermission(ctx, acting, *workspaceID, auth.PermMembersManage); err != nil {
		return err
	}
	// Nobody hands out a role above their own.
	if _, err := a.guard.RequireRole(ctx, acting, *workspaceID, r); err != nil {
		return err
	}

	now := time.Now().UTC()
	m := &auth.Membership{
		WorkspaceID: *workspaceID,
		UserID:      *userID,
		Role:        r,
		InvitedBy:   acting,
		InvitedAt:   &now,
		JoinedAt:    now,
	}
	if err := a.store.CreateMembership(ctx, m); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"workspace": m.WorkspaceID, "user": m.UserID, "role": m.Role}).Info("Added member")
	return nil
}

func (a *app) issue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	workspaceID := fs.String("workspace", "", "Workspace id")
	userID := fs.String("user", "", "Issuing user id")
	name := fs.String("name", "", "Key name")
	device := fs.String("device", "", "Device label")
	scopes := fs.String("scopes", string(auth.ScopeClipperWrite), "Comma-separated scopes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireIDs(idFlag{"workspace", *workspaceID}, idFlag{"user", *userID}); err != nil {
		return err
	}

	issued, err := a.issuer.Generate(contextkeys.WithUserID(ctx, *userID), apikeys.GenerateRequest{
		WorkspaceID:   *workspaceID,
		IssuingUserID: *userID,
		Name:          *name,
		Device:        *device,
		Scopes:        parseScopes(*scopes),
	})
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"key": issued.Key.ID, "prefix": issued.Key.KeyPrefix}).Info("Issued API key; the token is shown once")
	fmt.Fprintln(a.out, issued.Plaintext)
	return nil
}

func (a *app) revoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	keyID := fs.String("key", "", "Key id")
	userID := fs.String("user", "", "Acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireIDs(idFlag{"key", *keyID}, idFlag{"user", *userID}); err != nil {
		return err
	}
	if err := a.issuer.Revoke(contextkeys.WithUserID(ctx, *userID), *keyID, *userID); err != nil {
		return err
	}
	a.log.WithField("key", *keyID).Info("Revoked API key")
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	workspaceID := fs.String("workspace", "", "Workspace id")
	userID := fs.String("user", "", "Acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireIDs(idFlag{"workspace", *workspaceID}, idFlag{"user", *userID}); err != nil {
		return err
	}
	keys, err := a.issuer.List(contextkeys.WithUserID(ctx, *userID), *workspaceID, *userID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPREFIX\tNAME\tUSER\tSCOPES\tLAST USED\tSTATUS")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.KeyPrefix, k.Name, k.UserID, joinScopes(k.Scopes), formatTime(k.LastUsedAt), status(k))
	}
	return tw.Flush()
}

func (a *app) setDisabled(ctx context.Context, args []string, disabled bool) error {
	fs := flag.NewFlagSet("disable", flag.ContinueOnError)
	workspaceID := fs.String("workspace", "", "Workspace id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireIDs(idFlag{"workspace", *workspaceID}); err != nil {
		return err
	}
	if err := a.store.SetWorkspaceDisabled(ctx, *workspaceID, disabled); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"workspace": *workspaceID, "disabled": disabled}).Info("Updated workspace")
	return nil
}

func (a *app) auditEvents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	workspaceID := fs.String("workspace", "", "Only events in this workspace")
	userID := fs.String("user", "", "Only events by this user")
	since := fs.Duration("since", 24*time.Hour, "How far back to look")
	limit := fs.Int("limit", 100, "Maximum number of events")
	format := fs.String("format", string(audit.ExportFormatNDJSON), "Output format: ndjson, json or csv")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.events == nil {
		return errors.New("audit events are not available")
	}

	start := time.Now().Add(-*since)
	events, err := a.events.Search(ctx, audit.SearchFilter{
		StartTime:   &start,
		UserID:      *userID,
		WorkspaceID: *workspaceID,
		Limit:       *limit,
	})
	if err != nil {
		return err
	}
	out, err := audit.Export(events, audit.ExportFormat(*format))
	if err != nil {
		return err
	}
	_, err = a.out.Write(out)
	return err
}

func (a *app) auditCleanup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit-cleanup", flag.ContinueOnError)
	retention := fs.Duration("retention", 90*24*time.Hour, "Delete events older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.events == nil {
		return errors.New("audit events are not available")
	}
	n, err := a.events.Cleanup(ctx, *retention)
	if err != nil {
		return err
	}
	a.log.WithField("deleted", n).Info("Removed old audit events")
	return nil
}

type idFlag struct {
	name, value string
}

// requireIDs checks that every id flag holds a UUID, the type of every id
// column in the schema
func requireIDs(flags ...idFlag) error {
	for _, f := range flags {
		if f.value == "" {
			return fmt.Errorf("--%s is required", f.name)
		}
		if _, err := uuid.Parse(f.value); err != nil {
			return fmt.Errorf("--%s must be a UUID: %q", f.name, f.value)
		}
	}
	return nil
}

func parseScopes(s string) []auth.Scope {
	var out []auth.Scope
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, auth.Scope(part))
		}
	}
	return out
}

func joinScopes(scopes []auth.Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func status(k auth.RedactedAPIKey) string {
	if k.RevokedAt != nil {
		return "revoked"
	}
	return "active"
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func connectDatabase(ctx context.Context, connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
