package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/case/infrastructure"
	"github.com/unionlegal/platform/internal/case/service"
	"github.com/unionlegal/platform/internal/directory"
	"github.com/unionlegal/platform/internal/notification"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/middleware"
	"github.com/unionlegal/platform/internal/shared/types"
)

type testServer struct {
	handler http.Handler
	users   *directory.MemoryStore
}

func newTestServer(t *testing.T, claims *middleware.KeyedRateLimiter) *testServer {
	t.Helper()
	users := directory.NewMemoryStore()
	evaluator := auth.NewEvaluator(auth.DefaultTable())
	engine := service.NewEngine(
		infrastructure.NewMemoryRepository(),
		directory.NewService(users, evaluator, nil),
		evaluator,
		notification.NewRecorder(),
		nil,
		nil,
	)
	return &testServer{handler: NewHandler(engine, claims).Routes(), users: users}
}

func (s *testServer) user(t *testing.T, role auth.Role) auth.Subject {
	t.Helper()
	u := &directory.User{ID: types.NewID(), Role: role}
	if err := s.users.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return auth.NewSubject(u.Actor())
}

func (s *testServer) do(subject auth.Subject, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(sharedauth.WithSubject(req.Context(), subject))
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) create(t *testing.T, reporter auth.Subject) string {
	t.Helper()
	w := s.do(reporter, http.MethodPost, "/", CreateCaseRequest{
		Title:        "Deposit withheld",
		Category:     "housing",
		IncidentDate: "2026-01-15",
		Description:  "Landlord kept the full deposit without an inventory",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(w.Body).Decode(&created)
	return created.ID
}

// TestCreateCaseValidation tests request validation
func TestCreateCaseValidation(t *testing.T) {
	s := newTestServer(t, nil)
	member := s.user(t, auth.RoleMember)

	tests := []struct {
		name string
		body any
	}{
		{"missing title", CreateCaseRequest{Category: "housing", IncidentDate: "2026-01-15", Description: "d"}},
		{"bad date", CreateCaseRequest{Title: "t", Category: "housing", IncidentDate: "15/01/2026", Description: "d"}},
		{"unknown field", map[string]string{"title": "t", "reporter_id": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(member, http.MethodPost, "/", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

// TestClaimFlow tests listing, claiming and the lost-race response
func TestClaimFlow(t *testing.T) {
	s := newTestServer(t, nil)
	reporter := s.user(t, auth.RoleMember)
	lawyerA := s.user(t, auth.RoleLawyer)
	lawyerB := s.user(t, auth.RoleLawyer)
	id := s.create(t, reporter)

	w := s.do(lawyerA, http.MethodGet, "/available", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), reporter.Actor.ID.String()) {
		t.Errorf("Available listing leaks the reporter: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "days_since_created") {
		t.Errorf("Expected days_since_created in listing: %s", w.Body.String())
	}

	w = s.do(lawyerA, http.MethodPost, "/"+id+"/claim", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(lawyerB, http.MethodPost, "/"+id+"/claim", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["code"] != "ALREADY_CLAIMED" {
		t.Errorf("Expected ALREADY_CLAIMED, got %v", body["code"])
	}

	w = s.do(lawyerB, http.MethodPost, "/"+types.NewID().String()+"/claim", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

// TestClaimRateLimit tests per-actor claim throttling
func TestClaimRateLimit(t *testing.T) {
	s := newTestServer(t, middleware.NewKeyedRateLimiter(1, 1))
	lawyer := s.user(t, auth.RoleLawyer)

	first := s.do(lawyer, http.MethodPost, "/"+types.NewID().String()+"/claim", nil)
	if first.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", first.Code)
	}
	second := s.do(lawyer, http.MethodPost, "/"+types.NewID().String()+"/claim", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", second.Code)
	}

	other := s.user(t, auth.RoleLawyer)
	if w := s.do(other, http.MethodPost, "/"+types.NewID().String()+"/claim", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected separate budget per lawyer, got %d", w.Code)
	}
}

// TestThreadFlow tests respond, reply and complete over HTTP
func TestThreadFlow(t *testing.T) {
	s := newTestServer(t, nil)
	reporter := s.user(t, auth.RoleMember)
	lawyer := s.user(t, auth.RoleLawyer)
	id := s.create(t, reporter)

	s.do(lawyer, http.MethodPost, "/"+id+"/claim", nil)

	steps := []struct {
		name     string
		subject  auth.Subject
		method   string
		path     string
		body     any
		expected int
	}{
		{"reporter cannot complete under review", reporter, http.MethodPost, "/complete", nil, http.StatusUnprocessableEntity},
		{"lawyer answers", lawyer, http.MethodPost, "/responses", ContentRequest{Content: "Send a formal demand letter"}, http.StatusOK},
		{"reporter replies", reporter, http.MethodPost, "/replies", ContentRequest{Content: "Should I keep a copy?"}, http.StatusCreated},
		{"lawyer answers again", lawyer, http.MethodPost, "/responses", ContentRequest{Content: "Yes, send it registered"}, http.StatusOK},
		{"empty reply rejected", reporter, http.MethodPost, "/replies", ContentRequest{}, http.StatusBadRequest},
		{"reporter lists replies", reporter, http.MethodGet, "/replies", nil, http.StatusOK},
		{"reporter completes", reporter, http.MethodPost, "/complete", nil, http.StatusOK},
		{"reply after completion", lawyer, http.MethodPost, "/replies", ContentRequest{Content: "One more thing"}, http.StatusUnprocessableEntity},
	}

	for _, step := range steps {
		w := s.do(step.subject, step.method, "/"+id+step.path, step.body)
		if w.Code != step.expected {
			t.Errorf("%s: expected status %d, got %d: %s", step.name, step.expected, w.Code, w.Body.String())
		}
	}
}

// TestGetCaseInvalidID tests id parsing
func TestGetCaseInvalidID(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(s.user(t, auth.RoleMember), http.MethodGet, "/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}
