package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/directory"
	"github.com/yndnr/captoken-go/internal/server/httpserver/handler"
	"github.com/yndnr/captoken-go/internal/storage/memory"
	"github.com/yndnr/captoken-go/internal/telemetry/metric"
)

type testKey struct {
	id, secret string
}

type testAPI struct {
	srv       *httptest.Server
	issuer    testKey
	validator testKey
	tenantA   testKey // issuer bound to org-a
}

func newTestAPI(t *testing.T, mutate ...func(*RouterConfig)) *testAPI {
	t.Helper()

	entities := []domain.Entity{
		{Type: domain.EntityStudent, ID: "s1"},
		{Type: domain.EntityTraining, ID: "tr1"},
	}
	dir, err := directory.New(&directory.File{Organizations: []directory.Organization{
		{ID: "org-a", Entities: entities},
		{ID: "org-b", Entities: entities},
	}})
	if err != nil {
		t.Fatalf("directory.New: %v", err)
	}

	reg := metric.NewRegistry()
	tokens := service.NewTokenService(memory.New(), service.DefaultTokenServiceConfig(),
		service.WithDirectory(dir),
		service.WithMetrics(reg),
	)

	issuerKey, issuerSecret, err := domain.NewAPIKey("issuer", domain.RoleIssuer)
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	validatorKey, validatorSecret, err := domain.NewAPIKey("validator", domain.RoleValidator)
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	tenantKey, tenantSecret, err := domain.NewAPIKey("tenant-a", domain.RoleIssuer)
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	tenantKey.OrganizationID = "org-a"
	keys, err := memory.NewAPIKeyStore(issuerKey, validatorKey, tenantKey)
	if err != nil {
		t.Fatalf("NewAPIKeyStore: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultRouterConfig()
	cfg.Handler = handler.New(handler.Config{
		Tokens:     tokens,
		Attendance: service.NewAttendanceService(tokens),
		Logger:     logger,
	})
	cfg.AuthService = service.NewAuthService(keys, nil)
	cfg.Metrics = reg
	cfg.Logger = logger
	cfg.PublicRateLimit = 0
	for _, m := range mutate {
		m(cfg)
	}

	router, err := NewRouter(cfg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testAPI{
		srv:       srv,
		issuer:    testKey{issuerKey.KeyID, issuerSecret},
		validator: testKey{validatorKey.KeyID, validatorSecret},
		tenantA:   testKey{tenantKey.KeyID, tenantSecret},
	}
}

type envelope struct {
	Code      string          `json:"code"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func (a *testAPI) do(t *testing.T, method, path string, key *testKey, body any) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if key != nil {
		req.Header.Set("X-API-Key-ID", key.id)
		req.Header.Set("X-API-Key", key.secret)
	}
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if resp.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func learnerAccessBody() *handler.IssueTokenRequest {
	return &handler.IssueTokenRequest{
		Kind: string(domain.KindLearnerAccess),
		Scope: domain.Scope{
			OrganizationID: "org-a",
			SubjectType:    domain.EntityStudent,
			SubjectID:      "s1",
			TargetType:     domain.EntityTraining,
			TargetID:       "tr1",
		},
	}
}

func TestRouter_TokenLifecycle(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(t, http.MethodPost, "/tokens", &api.issuer, learnerAccessBody())
	if status != http.StatusCreated {
		t.Fatalf("issue status = %d, code = %s", status, env.Code)
	}
	var issued service.IssueResult
	if err := json.Unmarshal(env.Data, &issued); err != nil {
		t.Fatalf("unmarshal issue result: %v", err)
	}
	if issued.Token == nil || issued.Token.IssuedBy != api.issuer.id {
		t.Fatalf("issued token = %+v, want IssuedBy %s", issued.Token, api.issuer.id)
	}

	if status, env = api.do(t, http.MethodGet, "/tokens/"+issued.Value+"?org=org-a", nil, nil); status != http.StatusOK {
		t.Fatalf("peek status = %d, code = %s", status, env.Code)
	}
	var peek handler.PeekResponse
	if err := json.Unmarshal(env.Data, &peek); err != nil {
		t.Fatalf("unmarshal peek: %v", err)
	}
	if peek.Kind != domain.KindLearnerAccess || peek.RemainingUses != -1 {
		t.Errorf("peek = %+v", peek)
	}

	if status, env = api.do(t, http.MethodPost, "/tokens/"+issued.Value+"/consume", nil, nil); status != http.StatusOK {
		t.Fatalf("consume status = %d, code = %s", status, env.Code)
	}

	status, env = api.do(t, http.MethodPost, "/admin/v1/tokens/"+issued.Token.ID+"/revoke", &api.issuer,
		&handler.OrgRequest{OrganizationID: "org-a"})
	if status != http.StatusOK {
		t.Fatalf("revoke status = %d, code = %s", status, env.Code)
	}

	// Public callers see a single code for every unusable link.
	status, env = api.do(t, http.MethodGet, "/tokens/"+issued.Value, nil, nil)
	if status != http.StatusGone || env.Code != domain.ErrLinkInvalid.Code {
		t.Errorf("peek after revoke = %d %s, want 410 %s", status, env.Code, domain.ErrLinkInvalid.Code)
	}

	// Staff see the precise state.
	status, env = api.do(t, http.MethodGet, "/admin/v1/tokens/"+issued.Token.ID+"/records?org=org-a", &api.validator, nil)
	if status != http.StatusOK {
		t.Fatalf("records status = %d, code = %s", status, env.Code)
	}
}

func TestRouter_TenantBoundKey(t *testing.T) {
	api := newTestAPI(t)

	other := learnerAccessBody()
	other.Scope.OrganizationID = "org-b"
	status, env := api.do(t, http.MethodPost, "/tokens", &api.issuer, other)
	if status != http.StatusCreated {
		t.Fatalf("issue in org-b status = %d, code = %s", status, env.Code)
	}
	var issued service.IssueResult
	if err := json.Unmarshal(env.Data, &issued); err != nil {
		t.Fatalf("unmarshal issue result: %v", err)
	}
	id := issued.Token.ID

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode string
	}{
		{"revoke by id without org", http.MethodPost, "/admin/v1/tokens/" + id + "/revoke", nil, domain.ErrTokenNotFound.Code},
		{"revoke by id naming org-b", http.MethodPost, "/admin/v1/tokens/" + id + "/revoke",
			&handler.OrgRequest{OrganizationID: "org-b"}, domain.ErrTokenNotFound.Code},
		{"revoke by value", http.MethodPost, "/tokens/" + issued.Value + "/revoke", nil, domain.ErrTokenNotFound.Code},
		{"get", http.MethodGet, "/admin/v1/tokens/" + id, nil, domain.ErrTokenNotFound.Code},
		{"records", http.MethodGet, "/admin/v1/tokens/" + id + "/records?org=org-b", nil, domain.ErrTokenNotFound.Code},
		{"list org-b", http.MethodGet, "/admin/v1/tokens?org=org-b", nil, domain.ErrPermissionDenied.Code},
		{"issue into org-b", http.MethodPost, "/tokens", other, domain.ErrPermissionDenied.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := api.do(t, tt.method, tt.path, &api.tenantA, tt.body)
			if env.Code != tt.wantCode {
				t.Errorf("%s %s = %d %s, want %s", tt.method, tt.path, status, env.Code, tt.wantCode)
			}
		})
	}

	// The bound key still works inside its own tenant without naming it.
	status, env = api.do(t, http.MethodPost, "/tokens", &api.tenantA, learnerAccessBody())
	if status != http.StatusCreated {
		t.Fatalf("issue in org-a status = %d, code = %s", status, env.Code)
	}
	status, env = api.do(t, http.MethodGet, "/admin/v1/tokens", &api.tenantA, nil)
	if status != http.StatusOK {
		t.Fatalf("list own tenant status = %d, code = %s", status, env.Code)
	}

	// org-b's token is untouched.
	status, env = api.do(t, http.MethodGet, "/admin/v1/tokens/"+id+"?org=org-b", &api.issuer, nil)
	if status != http.StatusOK {
		t.Fatalf("get org-b token status = %d, code = %s", status, env.Code)
	}
	var tok domain.Token
	if err := json.Unmarshal(env.Data, &tok); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if tok.Status != domain.StatusActive {
		t.Errorf("org-b token status = %s, want active", tok.Status)
	}
}

func TestRouter_UnknownValueIsGone(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(t, http.MethodGet, "/tokens/ctla_doesnotexist", nil, nil)
	if status != http.StatusGone || env.Code != domain.ErrLinkInvalid.Code {
		t.Errorf("status = %d, code = %s", status, env.Code)
	}
	if env.RequestID == "" {
		t.Error("expected request_id in error envelope")
	}
}

func TestRouter_StaffAuth(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name       string
		key        *testKey
		wantStatus int
		wantCode   string
	}{
		{"no credentials", nil, http.StatusUnauthorized, domain.ErrAPIKeyMissing.Code},
		{"wrong secret", &testKey{api.issuer.id, "nope"}, http.StatusUnauthorized, domain.ErrAPIKeyInvalid.Code},
		{"validator cannot issue", &api.validator, http.StatusForbidden, domain.ErrPermissionDenied.Code},
		{"issuer can issue", &api.issuer, http.StatusCreated, "OK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := api.do(t, http.MethodPost, "/tokens", tt.key, learnerAccessBody())
			if status != tt.wantStatus || env.Code != tt.wantCode {
				t.Errorf("got %d %s, want %d %s", status, env.Code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestRouter_AdminNetworkACL(t *testing.T) {
	api := newTestAPI(t, func(c *RouterConfig) {
		c.AdminAllowList = []string{"10.0.0.0/8"}
	})

	status, env := api.do(t, http.MethodGet, "/admin/v1/tokens?org=org-a", &api.issuer, nil)
	if status != http.StatusForbidden || env.Code != domain.ErrIPNotAllowed.Code {
		t.Errorf("got %d %s, want 403 %s", status, env.Code, domain.ErrIPNotAllowed.Code)
	}

	// Staff routes outside /admin/v1 are not subject to the ACL.
	if status, env = api.do(t, http.MethodPost, "/tokens", &api.issuer, learnerAccessBody()); status != http.StatusCreated {
		t.Errorf("issue status = %d, code = %s", status, env.Code)
	}
}

func TestRouter_PublicRateLimit(t *testing.T) {
	api := newTestAPI(t, func(c *RouterConfig) {
		c.PublicRateLimit = 0.001
		c.PublicBurst = 2
	})

	for i := 0; i < 2; i++ {
		if status, _ := api.do(t, http.MethodGet, "/tokens/ctla_x", nil, nil); status != http.StatusGone {
			t.Fatalf("request %d status = %d, want 410", i, status)
		}
	}
	status, env := api.do(t, http.MethodGet, "/tokens/ctla_x", nil, nil)
	if status != http.StatusTooManyRequests || env.Code != domain.ErrRateLimited.Code {
		t.Errorf("got %d %s, want 429", status, env.Code)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	if status, env := api.do(t, http.MethodGet, "/health", nil, nil); status != http.StatusOK {
		t.Errorf("health status = %d, code = %s", status, env.Code)
	}
	if status, _ := api.do(t, http.MethodGet, "/metrics", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("metrics without key = %d, want 401", status)
	}
	if status, _ := api.do(t, http.MethodGet, "/metrics", &api.validator, nil); status != http.StatusOK {
		t.Errorf("metrics with validator key = %d, want 200", status)
	}
}

func TestNewRouter_InvalidTrustedProxy(t *testing.T) {
	cfg := DefaultRouterConfig()
	cfg.TrustedProxies = []string{"not-an-ip"}
	if _, err := NewRouter(cfg); err == nil {
		t.Error("expected error for invalid trusted proxy")
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s := New(Config{ReadTimeout: time.Second, WriteTimeout: time.Second}, handler)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Serve returned %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for Serve to return")
	}
}
