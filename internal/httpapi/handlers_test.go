package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
	"colegio.org/internal/election"
	"colegio.org/internal/ids"
)

type stubAuth struct {
	AuthService

	principals map[string]auth.Principal
	loginFn    func(context.Context, auth.LoginInput) (auth.LoginResult, error)
	logoutFn   func(context.Context, string, string) error
	resetFn    func(context.Context, string, string) error
	meFn       func(context.Context, string) (auth.UserProfile, error)
}

func (s *stubAuth) Authenticate(_ context.Context, token string) (auth.Principal, error) {
	p, ok := s.principals[token]
	if !ok {
		return auth.Principal{}, apperr.Unauthorized("session not found")
	}
	return p, nil
}

func (s *stubAuth) Login(ctx context.Context, in auth.LoginInput) (auth.LoginResult, error) {
	return s.loginFn(ctx, in)
}

func (s *stubAuth) Logout(ctx context.Context, token, userID string) error {
	return s.logoutFn(ctx, token, userID)
}

func (s *stubAuth) RequestPasswordReset(context.Context, string) (string, error) {
	return auth.ResetRequestedMessage, nil
}

func (s *stubAuth) ResetPassword(ctx context.Context, token, pw string) error {
	return s.resetFn(ctx, token, pw)
}

func (s *stubAuth) Me(ctx context.Context, userID string) (auth.UserProfile, error) {
	return s.meFn(ctx, userID)
}

type stubElections struct {
	ElectionService

	votableFn  func(context.Context, string) ([]election.VotableElection, error)
	bulkVoteFn func(context.Context, string, string, []election.Selection) (election.BallotReceipt, error)
	createFn   func(context.Context, election.NewElection) (election.Election, error)
	resultsFn  func(context.Context, string) (election.Results, error)
}

func (s *stubElections) VotableElections(ctx context.Context, userID string) ([]election.VotableElection, error) {
	return s.votableFn(ctx, userID)
}

func (s *stubElections) BulkVote(ctx context.Context, electionID, userID string, sel []election.Selection) (election.BallotReceipt, error) {
	return s.bulkVoteFn(ctx, electionID, userID, sel)
}

func (s *stubElections) Create(ctx context.Context, in election.NewElection) (election.Election, error) {
	return s.createFn(ctx, in)
}

func (s *stubElections) Results(ctx context.Context, id string) (election.Results, error) {
	return s.resultsFn(ctx, id)
}

const (
	memberToken  = "member-token"
	adminToken   = "admin-token"
	visitorToken = "visitor-token"
)

var (
	memberID = ids.New()
	adminID  = ids.New()
)

func testPrincipals() map[string]auth.Principal {
	return map[string]auth.Principal{
		memberToken: auth.NewPrincipal(auth.User{ID: memberID, DNI: "12345678", IsActive: true}, "s-member",
			auth.Access{Roles: []string{auth.RoleMember}}),
		adminToken: auth.NewPrincipal(auth.User{ID: adminID, DNI: "87654321", IsActive: true}, "s-admin",
			auth.Access{
				Roles: []string{auth.RoleSystemAdmin},
				Permissions: []string{
					auth.PermElectionsManage, auth.PermRBACManage, auth.PermPadronManage, auth.PermAuditRead, auth.PermUsersManage,
				},
			}),
		visitorToken: auth.NewPrincipal(auth.User{ID: ids.New(), DNI: "11112222", IsActive: true}, "s-visitor", auth.Access{}),
	}
}

type testAPI struct {
	t      *testing.T
	server *httptest.Server
}

func newTestAPI(t *testing.T, svc Services) *testAPI {
	t.Helper()
	if svc.Auth == nil {
		svc.Auth = &stubAuth{principals: testPrincipals()}
	}
	api, err := New(ReadyProbe{}, svc, Options{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{t: t, server: srv}
}

func (ta *testAPI) do(method, path, token string, body any) *http.Response {
	ta.t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			buf, err := json.Marshal(b)
			if err != nil {
				ta.t.Fatalf("marshal body: %v", err)
			}
			reader = bytes.NewReader(buf)
		}
	}
	req, err := http.NewRequest(method, ta.server.URL+path, reader)
	if err != nil {
		ta.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ta.server.Client().Do(req)
	if err != nil {
		ta.t.Fatalf("%s %s: %v", method, path, err)
	}
	ta.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, raw)
	}
}

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return errors.New("boom") }

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, Services{})
	resp := api.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decodeBody(t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}
}

func TestReadyReportsProbeFailure(t *testing.T) {
	api, err := New(failingReadiness{}, Services{Auth: &stubAuth{}}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestNewRequiresAuthService(t *testing.T) {
	if _, err := New(nil, Services{}, Options{}); err == nil {
		t.Fatalf("expected error without auth service")
	}
}

func TestLoginSuccess(t *testing.T) {
	var got auth.LoginInput
	stub := &stubAuth{
		principals: testPrincipals(),
		loginFn: func(_ context.Context, in auth.LoginInput) (auth.LoginResult, error) {
			got = in
			return auth.LoginResult{AccessToken: "tok", User: auth.User{ID: memberID}}, nil
		},
	}
	api := newTestAPI(t, Services{Auth: stub})

	resp := api.do(http.MethodPost, "/auth/login", "", map[string]string{"dni": "12345678", "password": "secret"})
	expectStatus(t, resp, http.StatusOK)
	body := decodeBody(t, resp)
	if body["accessToken"] != "tok" {
		t.Fatalf("unexpected body: %v", body)
	}
	if got.DNI != "12345678" || got.Password != "secret" || got.ClientIP == "" {
		t.Fatalf("unexpected login input: %+v", got)
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store on token responses")
	}
}

func TestLoginValidationReportsFields(t *testing.T) {
	api := newTestAPI(t, Services{})

	resp := api.do(http.MethodPost, "/auth/login", "", map[string]string{"dni": "12ab", "password": ""})
	expectStatus(t, resp, http.StatusBadRequest)
	body := decodeBody(t, resp)
	fields, ok := body["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected field errors, got %v", body)
	}
	if _, ok := fields["dni"]; !ok {
		t.Fatalf("expected dni error, got %v", fields)
	}
	if _, ok := fields["password"]; !ok {
		t.Fatalf("expected password error, got %v", fields)
	}
	if body["category"] != "bad_request" || body["request_id"] == "" {
		t.Fatalf("unexpected envelope: %v", body)
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t, Services{})
	resp := api.do(http.MethodPost, "/auth/login", "", `{"dni":"12345678","password":"x","admin":true}`)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestLoginUnauthorizedMapsTo401(t *testing.T) {
	stub := &stubAuth{
		loginFn: func(context.Context, auth.LoginInput) (auth.LoginResult, error) {
			return auth.LoginResult{}, apperr.Unauthorized("invalid credentials")
		},
	}
	api := newTestAPI(t, Services{Auth: stub})

	resp := api.do(http.MethodPost, "/auth/login", "", map[string]string{"dni": "12345678", "password": "bad"})
	expectStatus(t, resp, http.StatusUnauthorized)
	body := decodeBody(t, resp)
	if body["error"] != "invalid credentials" || body["category"] != "unauthorized" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestLogoutRevokesBearerToken(t *testing.T) {
	var revoked, owner string
	stub := &stubAuth{
		principals: testPrincipals(),
		logoutFn: func(_ context.Context, token, userID string) error {
			revoked, owner = token, userID
			return nil
		},
	}
	api := newTestAPI(t, Services{Auth: stub})

	resp := api.do(http.MethodPost, "/auth/logout", memberToken, nil)
	expectStatus(t, resp, http.StatusNoContent)
	if revoked != memberToken || owner != memberID {
		t.Fatalf("unexpected logout call: token=%q user=%q", revoked, owner)
	}
}

func TestResetPasswordInvalidToken(t *testing.T) {
	stub := &stubAuth{
		resetFn: func(context.Context, string, string) error {
			return apperr.BadRequest("invalid or expired token")
		},
	}
	api := newTestAPI(t, Services{Auth: stub})

	resp := api.do(http.MethodPost, "/auth/reset-password", "", map[string]string{"token": "abc", "newPassword": "long-enough"})
	expectStatus(t, resp, http.StatusBadRequest)
	if body := decodeBody(t, resp); body["error"] != "invalid or expired token" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestForgotPasswordAlwaysGeneric(t *testing.T) {
	api := newTestAPI(t, Services{})
	resp := api.do(http.MethodPost, "/auth/forgot-password", "", map[string]string{"dni": "99999999"})
	expectStatus(t, resp, http.StatusOK)
	if body := decodeBody(t, resp); body["message"] != auth.ResetRequestedMessage {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	api := newTestAPI(t, Services{})

	resp := api.do(http.MethodGet, "/users/me", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}

	resp = api.do(http.MethodGet, "/users/me", "unknown-token", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestMeReturnsProfileWithAccess(t *testing.T) {
	stub := &stubAuth{
		principals: testPrincipals(),
		meFn: func(_ context.Context, userID string) (auth.UserProfile, error) {
			return auth.UserProfile{User: auth.User{ID: userID}, ChapterName: "Civil"}, nil
		},
	}
	api := newTestAPI(t, Services{Auth: stub})

	resp := api.do(http.MethodGet, "/users/me", memberToken, nil)
	expectStatus(t, resp, http.StatusOK)
	body := decodeBody(t, resp)
	profile, _ := body["profile"].(map[string]any)
	if profile["id"] != memberID || profile["chapterName"] != "Civil" {
		t.Fatalf("unexpected profile: %v", body)
	}
	roles, _ := body["roles"].([]any)
	if len(roles) != 1 || roles[0] != auth.RoleMember {
		t.Fatalf("unexpected roles: %v", body["roles"])
	}
}

func TestVotableRequiresMemberRole(t *testing.T) {
	elections := &stubElections{
		votableFn: func(context.Context, string) ([]election.VotableElection, error) {
			return []election.VotableElection{}, nil
		},
	}
	api := newTestAPI(t, Services{Elections: elections})

	resp := api.do(http.MethodGet, "/elections/votable", visitorToken, nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = api.do(http.MethodGet, "/elections/votable", memberToken, nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestBulkVoteSuccess(t *testing.T) {
	electionID, candidateID, positionID := ids.New(), ids.New(), ids.New()
	var gotElection, gotUser string
	var gotSelections []election.Selection
	elections := &stubElections{
		bulkVoteFn: func(_ context.Context, eID, uID string, sel []election.Selection) (election.BallotReceipt, error) {
			gotElection, gotUser, gotSelections = eID, uID, sel
			return election.BallotReceipt{Message: "Votes registered", Count: len(sel)}, nil
		},
	}
	api := newTestAPI(t, Services{Elections: elections})

	resp := api.do(http.MethodPost, "/elections/"+electionID+"/bulk-vote", memberToken, map[string]any{
		"selections": []map[string]string{{"candidateId": candidateID, "electionPositionId": positionID}},
	})
	expectStatus(t, resp, http.StatusCreated)
	if gotElection != electionID || gotUser != memberID {
		t.Fatalf("unexpected call: election=%q user=%q", gotElection, gotUser)
	}
	if len(gotSelections) != 1 || gotSelections[0].CandidateID != candidateID || gotSelections[0].PositionID != positionID {
		t.Fatalf("unexpected selections: %+v", gotSelections)
	}
	if body := decodeBody(t, resp); body["count"] != float64(1) {
		t.Fatalf("unexpected receipt: %v", body)
	}
}

func TestBulkVoteConflict(t *testing.T) {
	elections := &stubElections{
		bulkVoteFn: func(context.Context, string, string, []election.Selection) (election.BallotReceipt, error) {
			return election.BallotReceipt{}, apperr.Conflict("you have already voted for one or more of these positions")
		},
	}
	api := newTestAPI(t, Services{Elections: elections})

	resp := api.do(http.MethodPost, "/elections/"+ids.New()+"/bulk-vote", memberToken, map[string]any{
		"selections": []map[string]string{{"candidateId": ids.New(), "electionPositionId": ids.New()}},
	})
	expectStatus(t, resp, http.StatusConflict)
	if body := decodeBody(t, resp); body["category"] != "conflict" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBulkVoteRejectsMalformedSelections(t *testing.T) {
	elections := &stubElections{}
	api := newTestAPI(t, Services{Elections: elections})

	resp := api.do(http.MethodPost, "/elections/"+ids.New()+"/bulk-vote", memberToken, map[string]any{
		"selections": []map[string]string{{"candidateId": "not-an-id", "electionPositionId": ids.New()}},
	})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = api.do(http.MethodPost, "/elections/"+ids.New()+"/bulk-vote", memberToken, map[string]any{"selections": []any{}})
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestMalformedPathIDIsNotFound(t *testing.T) {
	api := newTestAPI(t, Services{Elections: &stubElections{}})
	resp := api.do(http.MethodGet, "/elections/not-a-ulid/results", adminToken, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestCreateElectionRequiresPermission(t *testing.T) {
	api := newTestAPI(t, Services{Elections: &stubElections{}})
	resp := api.do(http.MethodPost, "/elections", memberToken, map[string]any{"name": "x"})
	expectStatus(t, resp, http.StatusForbidden)
}

func TestCreateElectionValidatesAndForwards(t *testing.T) {
	var got election.NewElection
	elections := &stubElections{
		createFn: func(_ context.Context, in election.NewElection) (election.Election, error) {
			got = in
			return election.Election{ID: ids.New(), Name: in.Name, Status: election.StatusDraft}, nil
		},
	}
	api := newTestAPI(t, Services{Elections: elections})

	resp := api.do(http.MethodPost, "/elections", adminToken, map[string]any{"name": "Consejo", "scope": "GLOBAL"})
	expectStatus(t, resp, http.StatusBadRequest)

	associationID := ids.New()
	resp = api.do(http.MethodPost, "/elections", adminToken, map[string]any{
		"name":          " Consejo ",
		"startDate":     "2026-03-01T08:00:00Z",
		"endDate":       "2026-03-01T18:00:00Z",
		"scope":         "ASSOCIATION",
		"associationId": associationID,
		"positions":     []map[string]any{{"title": "Decano", "order": 1}},
	})
	expectStatus(t, resp, http.StatusCreated)
	if got.Name != "Consejo" || got.Scope != election.ScopeAssociation || got.AssociationID != associationID {
		t.Fatalf("unexpected input: %+v", got)
	}
	if len(got.Positions) != 1 || got.Positions[0].Title != "Decano" {
		t.Fatalf("unexpected positions: %+v", got.Positions)
	}
}

func TestResultsOfOpenElectionForbidden(t *testing.T) {
	elections := &stubElections{
		resultsFn: func(context.Context, string) (election.Results, error) {
			return election.Results{}, apperr.Forbidden("results are only available for completed elections")
		},
	}
	api := newTestAPI(t, Services{Elections: elections})

	resp := api.do(http.MethodGet, "/elections/"+ids.New()+"/results", adminToken, nil)
	expectStatus(t, resp, http.StatusForbidden)
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	elections := &stubElections{
		resultsFn: func(context.Context, string) (election.Results, error) {
			return election.Results{}, errors.New("pq: connection reset by peer")
		},
	}
	api := newTestAPI(t, Services{Elections: elections})

	resp := api.do(http.MethodGet, "/elections/"+ids.New()+"/results", adminToken, nil)
	expectStatus(t, resp, http.StatusInternalServerError)
	body := decodeBody(t, resp)
	if body["error"] != "internal error" || body["category"] != "internal" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	api := newTestAPI(t, Services{})
	resp := api.do(http.MethodGet, "/nope", "", nil)
	expectStatus(t, resp, http.StatusNotFound)
	if body := decodeBody(t, resp); body["category"] != "not_found" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func jsonDecode(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
