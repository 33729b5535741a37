package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/unionlegal/platform/internal/app"
	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/directory"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/config"
	"github.com/unionlegal/platform/internal/shared/types"
)

type platform struct {
	t      *testing.T
	app    *app.App
	server *httptest.Server
	users  *directory.MemoryStore
}

func newPlatform(t *testing.T) *platform {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 0, Env: "test", AllowedOrigins: []string{"*"}},
		Auth:   config.AuthConfig{JWTSecret: "integration-secret", Issuer: "unionlegal"},
		Notification: config.NotificationConfig{
			Workers:       1,
			BufferSize:    16,
			RetryAttempts: 1,
			RetryDelay:    time.Millisecond,
		},
		RateLimit: config.RateLimitConfig{ClaimsPerMinute: 60, ClaimBurst: 10},
	}

	stores := app.MemoryStores()
	a, err := app.New(context.Background(), cfg, stores, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	server := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		server.Close()
		a.Close()
	})

	return &platform{t: t, app: a, server: server, users: stores.Directory.(*directory.MemoryStore)}
}

func (p *platform) user(role auth.Role) types.ID {
	p.t.Helper()
	u := &directory.User{ID: types.NewID(), Role: role, DisplayName: string(role)}
	if err := p.users.CreateUser(context.Background(), u); err != nil {
		p.t.Fatalf("Failed to create user: %v", err)
	}
	return u.ID
}

func (p *platform) do(actor types.ID, method, path string, body any) (int, []byte) {
	p.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, p.server.URL+"/api/v1"+path, &buf)
	if err != nil {
		p.t.Fatalf("Failed to build request: %v", err)
	}
	if actor != "" {
		token, err := sharedauth.IssueToken(p.app.Config.Auth, actor, time.Hour)
		if err != nil {
			p.t.Fatalf("Failed to issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		p.t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp.StatusCode, out.Bytes()
}

func (p *platform) expect(actor types.ID, method, path string, body any, status int) []byte {
	p.t.Helper()
	code, raw := p.do(actor, method, path, body)
	if code != status {
		p.t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, status, code, raw)
	}
	return raw
}

func decodeField(t *testing.T, raw []byte, field string) string {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	s, _ := m[field].(string)
	return s
}

// TestConsultationWorkflow tests membership approval, case filing, claiming
// and the answer thread end to end over HTTP.
func TestConsultationWorkflow(t *testing.T) {
	p := newPlatform(t)
	ctx := context.Background()

	org := &directory.Organization{ID: types.NewID(), Name: "Riverside Local"}
	if err := p.users.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("Failed to create organization: %v", err)
	}

	superAdmin := p.user(auth.RoleSuperAdmin)
	admin := p.user(auth.RoleAdmin)
	member := p.user(auth.RoleMember)
	lawyer := p.user(auth.RoleLawyer)
	rival := p.user(auth.RoleLawyer)

	// The admin joins through the same approval flow as everyone else.
	raw := p.expect(admin, http.MethodPost, "/memberships", map[string]string{"organization_id": org.ID.String()}, http.StatusOK)
	adminMembership := decodeField(t, raw, "id")
	p.expect(superAdmin, http.MethodPost, "/memberships/"+adminMembership+"/approve", nil, http.StatusOK)

	raw = p.expect(member, http.MethodPost, "/memberships", map[string]string{"organization_id": org.ID.String()}, http.StatusOK)
	memberMembership := decodeField(t, raw, "id")

	// Applying again returns the same membership.
	raw = p.expect(member, http.MethodPost, "/memberships", map[string]string{"organization_id": org.ID.String()}, http.StatusOK)
	if got := decodeField(t, raw, "id"); got != memberMembership {
		t.Errorf("Expected repeated apply to return %s, got %s", memberMembership, got)
	}

	raw = p.expect(admin, http.MethodPost, "/memberships/"+memberMembership+"/approve", nil, http.StatusOK)
	if status := decodeField(t, raw, "status"); status != "approved" {
		t.Errorf("Expected approved, got %s", status)
	}
	p.expect(admin, http.MethodPost, "/memberships/"+memberMembership+"/reject", nil, http.StatusConflict)

	u, err := p.users.GetUser(ctx, member)
	if err != nil {
		t.Fatalf("Failed to load member: %v", err)
	}
	if u.OrganizationID == nil || *u.OrganizationID != org.ID {
		t.Errorf("Expected member primary organization %s, got %v", org.ID, u.OrganizationID)
	}

	// Authenticating as an admin heals the authorization record.
	raw = p.expect(admin, http.MethodGet, "/me/authorization", nil, http.StatusOK)
	if decodeField(t, raw, "actor_id") != admin.String() {
		t.Errorf("Expected authorization record for %s, got %s", admin, raw)
	}

	raw = p.expect(member, http.MethodPost, "/cases", map[string]string{
		"title":         "Unpaid overtime",
		"category":      "wages",
		"incident_date": "2026-03-02",
		"description":   "Overtime hours from March were never paid out",
	}, http.StatusCreated)
	caseID := decodeField(t, raw, "id")

	raw = p.expect(lawyer, http.MethodGet, "/cases/available", nil, http.StatusOK)
	if !strings.Contains(string(raw), caseID) {
		t.Fatalf("Expected case %s in available listing: %s", caseID, raw)
	}
	if strings.Contains(string(raw), member.String()) {
		t.Error("Expected available listing to omit the reporter")
	}

	raw = p.expect(lawyer, http.MethodPost, "/cases/"+caseID+"/claim", nil, http.StatusOK)
	if status := decodeField(t, raw, "status"); status != "under_review" {
		t.Errorf("Expected under_review, got %s", status)
	}
	raw = p.expect(rival, http.MethodPost, "/cases/"+caseID+"/claim", nil, http.StatusConflict)
	if code := decodeField(t, raw, "code"); code != "ALREADY_CLAIMED" {
		t.Errorf("Expected ALREADY_CLAIMED, got %s", code)
	}
	p.expect(rival, http.MethodPost, "/cases/"+caseID+"/responses", map[string]string{"content": "Hijack"}, http.StatusForbidden)

	p.expect(lawyer, http.MethodPost, "/cases/"+caseID+"/responses", map[string]string{"content": "File a wage claim within 90 days."}, http.StatusOK)
	p.expect(member, http.MethodPost, "/cases/"+caseID+"/replies", map[string]string{"content": "Do I need my timesheets?"}, http.StatusCreated)
	p.expect(lawyer, http.MethodPost, "/cases/"+caseID+"/responses", map[string]string{"content": "Yes, bring copies."}, http.StatusOK)

	raw = p.expect(member, http.MethodGet, "/cases/"+caseID+"/replies", nil, http.StatusOK)
	var replies struct {
		Data []map[string]any `json:"data"`
	}
	json.Unmarshal(raw, &replies)
	if len(replies.Data) != 2 {
		t.Errorf("Expected 2 replies, got %d", len(replies.Data))
	}

	raw = p.expect(member, http.MethodPost, "/cases/"+caseID+"/complete", nil, http.StatusOK)
	if status := decodeField(t, raw, "status"); status != "completed" {
		t.Errorf("Expected completed, got %s", status)
	}

	// The organization admin sees the case through the approved membership.
	raw = p.expect(admin, http.MethodGet, "/cases", nil, http.StatusOK)
	if !strings.Contains(string(raw), caseID) {
		t.Errorf("Expected admin listing to contain %s: %s", caseID, raw)
	}
}

// TestUnauthenticatedRequests tests that the API rejects missing tokens.
func TestUnauthenticatedRequests(t *testing.T) {
	p := newPlatform(t)

	code, _ := p.do("", http.MethodGet, "/cases", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", code)
	}

	code, _ = p.do(types.NewID(), http.MethodGet, "/cases", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for unknown actor, got %d", code)
	}
}

// TestHealthEndpoints tests the unauthenticated probes.
func TestHealthEndpoints(t *testing.T) {
	p := newPlatform(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(p.server.URL + path)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, resp.StatusCode)
		}
	}
}
