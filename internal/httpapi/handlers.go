// Package httpapi exposes the auth, election, RBAC, padron and audit services
// over HTTP and a gRPC health endpoint.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
	"colegio.org/internal/auth"
	"colegio.org/internal/config"
	"colegio.org/internal/election"
	"colegio.org/internal/obs"
	"colegio.org/internal/padron"
)

const (
	serviceName  = "colegio-api"
	maxBodyBytes = 1 << 20
	// padron files are larger than ordinary JSON bodies.
	maxImportBytes = 5 << 20
)

// ReadyProbe pings the database for /readyz and the gRPC health service.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// AuthService is the subset of auth.Service used by the handlers.
type AuthService interface {
	Login(ctx context.Context, in auth.LoginInput) (auth.LoginResult, error)
	Logout(ctx context.Context, rawToken, userID string) error
	Authenticate(ctx context.Context, rawToken string) (auth.Principal, error)
	RequestPasswordReset(ctx context.Context, dni string) (string, error)
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	Me(ctx context.Context, userID string) (auth.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, upd auth.ProfileUpdate) (auth.User, error)
}

type RBACService interface {
	ListRoles(ctx context.Context) ([]auth.Role, error)
	GetRole(ctx context.Context, roleID string) (auth.Role, error)
	CreateRole(ctx context.Context, name, description string) (auth.Role, error)
	UpdateRole(ctx context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	ListPermissions(ctx context.Context) ([]auth.Permission, error)
	CreatePermission(ctx context.Context, key, description string) (auth.Permission, error)
	UpdatePermission(ctx context.Context, permissionID string, upd auth.PermissionUpdate) (auth.Permission, error)
	DeletePermission(ctx context.Context, permissionID string) error
	ReplaceRolePermissions(ctx context.Context, roleID string, keys []string) error
	AddRolePermissions(ctx context.Context, roleID string, keys []string) error
	ReplaceUserRoles(ctx context.Context, userID string, roleNames []string) error
	AddUserRoles(ctx context.Context, userID string, roleNames []string) error
	ReplaceUserRolesByDNI(ctx context.Context, dni string, roleNames []string) (string, error)
	AddUserRolesByDNI(ctx context.Context, dni string, roleNames []string) (string, error)
	SetUserStatus(ctx context.Context, userID string, active bool, reason string) (auth.User, error)

	ListUsers(ctx context.Context) ([]auth.ManagedUser, error)
	CreateUser(ctx context.Context, in auth.NewUser) (auth.ManagedUser, error)
	UpdateUser(ctx context.Context, userID string, upd auth.UserUpdate) (auth.ManagedUser, error)
	DeleteUser(ctx context.Context, userID string) error
}

type ElectionService interface {
	VotableElections(ctx context.Context, userID string) ([]election.VotableElection, error)
	BulkVote(ctx context.Context, electionID, userID string, selections []election.Selection) (election.BallotReceipt, error)
	Create(ctx context.Context, in election.NewElection) (election.Election, error)
	List(ctx context.Context) ([]election.Election, error)
	Get(ctx context.Context, electionID string) (election.Election, error)
	Update(ctx context.Context, electionID string, upd election.ElectionUpdate) (election.Election, error)
	CreateList(ctx context.Context, electionID string, in election.NewCandidateList) (election.CandidateList, error)
	DeleteList(ctx context.Context, listID string) error
	AddCandidate(ctx context.Context, listID string, in election.NewCandidate) (election.Candidate, error)
	UpdateCandidate(ctx context.Context, candidateID string, upd election.CandidateUpdate) (election.Candidate, error)
	DeleteCandidate(ctx context.Context, candidateID string) error
	Results(ctx context.Context, electionID string) (election.Results, error)
	ResultsByPosition(ctx context.Context, electionID string) ([]election.PositionResult, error)
	ResultsByList(ctx context.Context, electionID string) ([]election.ListResult, error)
}

type PadronImporter interface {
	Import(ctx context.Context, actor auth.Principal, rows []padron.Row) (padron.ImportResult, error)
}

type AuditLog interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Record, error)
}

// Services groups the domain collaborators behind the routes.
type Services struct {
	Auth      AuthService
	RBAC      RBACService
	Elections ElectionService
	Padron    PadronImporter
	Audit     AuditLog
}

// Options tune the middleware chain.
type Options struct {
	Version        string
	RateLimit      config.RateLimitConfig
	AllowedOrigins []string
	Logger         *zap.Logger
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	svc        Services
	opts       Options
	logger     *zap.Logger
}

func New(rp readinessChecker, svc Services, opts Options) (*API, error) {
	if svc.Auth == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	if rp == nil {
		rp = ReadyProbe{}
	}
	if opts.RateLimit.RPS <= 0 {
		opts.RateLimit.RPS = 20
	}
	if opts.RateLimit.Burst <= 0 {
		opts.RateLimit.Burst = 40
	}
	logger := opts.Logger
	if logger == nil {
		logger = obs.L()
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		svc:        svc,
		opts:       opts,
		logger:     logger,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	// credential endpoints share a tighter bucket than the global limiter.
	strict := newLimiterSet(1, 5)
	a.mux.Handle("POST /auth/login", strict.wrap(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("POST /auth/forgot-password", strict.wrap(http.HandlerFunc(a.handleForgotPassword)))
	a.mux.Handle("POST /auth/reset-password", strict.wrap(http.HandlerFunc(a.handleResetPassword)))
	a.mux.Handle("POST /auth/logout", a.withAuth(http.HandlerFunc(a.handleLogout)))

	a.mux.Handle("GET /users/me", a.withAuth(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("PATCH /users/me", a.withAuth(http.HandlerFunc(a.handleUpdateMe)))

	if a.svc.Elections != nil {
		a.electionRoutes()
	}
	if a.svc.RBAC != nil {
		a.rbacRoutes()
	}
	if a.svc.Padron != nil {
		a.mux.Handle("POST /padron/import", a.gate(auth.PermPadronManage, a.handlePadronImport))
	}
	if a.svc.Audit != nil {
		a.mux.Handle("GET /audit", a.gate(auth.PermAuditRead, a.handleAuditList))
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
}

// Handler wraps the mux with the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, maxImportBytes)
	h = RateLimit(h, a.opts.RateLimit.Burst, a.opts.RateLimit.RPS)
	h = CORS(a.opts.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if _, ok := payload["category"]; !ok {
		payload["category"] = categoryForStatus(code)
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleError maps the apperr taxonomy onto status codes. Anything outside
// the taxonomy is logged and reported as an opaque 500.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.Kind(err)
	code := statusForKind(kind)
	msg := apperr.Message(err)
	if code == http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal error"
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="colegio"`)
	}
	writeErrorBody(w, r, code, map[string]any{"error": msg, "category": kind})
}

func statusForKind(kind string) int {
	switch kind {
	case "not_found":
		return http.StatusNotFound
	case "bad_request":
		return http.StatusBadRequest
	case "forbidden":
		return http.StatusForbidden
	case "unauthorized":
		return http.StatusUnauthorized
	case "conflict":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func categoryForStatus(code int) string {
	switch code {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "bad_request"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.BadRequest("request body is required")
		case errors.As(err, &tooLarge):
			return apperr.BadRequest("request body too large")
		default:
			return apperr.BadRequest("invalid JSON body: %v", err)
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.BadRequest("unexpected data after JSON body")
	}
	return nil
}

// decodeValid decodes a JSON body into dst and runs its validation rules.
func (a *API) decodeValid(w http.ResponseWriter, r *http.Request, dst validatable) bool {
	if err := decodeJSON(r, dst); err != nil {
		a.handleError(w, r, err)
		return false
	}
	if err := dst.Validate(); err != nil {
		writeValidationError(w, r, err)
		return false
	}
	return true
}
