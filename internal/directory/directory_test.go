package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unionlegal/platform/internal/auth"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/types"
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(store, auth.NewEvaluator(auth.DefaultTable()), nil), store
}

func superAdmin() auth.Subject {
	return auth.NewSubject(auth.Actor{ID: types.NewID(), Role: auth.RoleSuperAdmin})
}

// TestCreateOrganizationPermissions tests that only super admins create organizations.
func TestCreateOrganizationPermissions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateOrganization(ctx, superAdmin(), CreateOrganizationRequest{Name: "Riverside Tenants"}); err != nil {
		t.Fatalf("Expected super admin to create organization, got %v", err)
	}

	admin := auth.NewSubject(auth.Actor{ID: types.NewID(), Role: auth.RoleAdmin})
	_, err := svc.CreateOrganization(ctx, admin, CreateOrganizationRequest{Name: "Other"})
	if !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for admin, got %v", err)
	}

	_, err = svc.CreateOrganization(ctx, superAdmin(), CreateOrganizationRequest{Name: "Riverside Tenants"})
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("Expected conflict for duplicate name, got %v", err)
	}
}

// TestSetPrimaryOrganizationIfUnset tests first-write-wins on the primary organization.
func TestSetPrimaryOrganizationIfUnset(t *testing.T) {
	_, store := newTestService()
	ctx := context.Background()
	user := &User{ID: types.NewID(), Role: auth.RoleMember}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	first := types.NewID()
	second := types.NewID()

	set, err := store.SetPrimaryOrganizationIfUnset(ctx, user.ID, first)
	if err != nil || !set {
		t.Fatalf("Expected first set to succeed, got %v %v", set, err)
	}
	set, err = store.SetPrimaryOrganizationIfUnset(ctx, user.ID, second)
	if err != nil || set {
		t.Fatalf("Expected second set to be skipped, got %v %v", set, err)
	}

	got, _ := store.GetUser(ctx, user.ID)
	if !first.Matches(got.OrganizationID) {
		t.Errorf("Expected organization %s, got %v", first, got.OrganizationID)
	}
}

// TestAdminsOf tests admin lookup by organization.
func TestAdminsOf(t *testing.T) {
	_, store := newTestService()
	ctx := context.Background()
	org := types.NewID()

	admin := &User{ID: types.NewID(), Role: auth.RoleAdmin, OrganizationID: org.Ptr()}
	lawyer := &User{ID: types.NewID(), Role: auth.RoleLawyer, OrganizationID: org.Ptr()}
	otherAdmin := &User{ID: types.NewID(), Role: auth.RoleAdmin, OrganizationID: types.NewID().Ptr()}
	superAdmin := &User{ID: types.NewID(), Role: auth.RoleSuperAdmin, CreatedAt: time.Now().Add(time.Second)}
	for _, u := range []*User{admin, lawyer, otherAdmin, superAdmin} {
		store.CreateUser(ctx, u)
	}

	ids, err := store.AdminsOf(ctx, org)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected admin and super admin, got %v", ids)
	}
	got := map[types.ID]bool{ids[0]: true, ids[1]: true}
	if !got[admin.ID] || !got[superAdmin.ID] {
		t.Errorf("Expected [%s %s], got %v", admin.ID, superAdmin.ID, ids)
	}
}

// TestFindActor tests actor resolution.
func TestFindActor(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	org := types.NewID()
	user := &User{ID: types.NewID(), Role: auth.RoleLawyer, OrganizationID: org.Ptr()}
	store.CreateUser(ctx, user)

	actor, err := svc.FindActor(ctx, user.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if actor.Role != auth.RoleLawyer || !org.Matches(actor.OrganizationID) {
		t.Errorf("Unexpected actor: %+v", actor)
	}

	if _, err := svc.FindActor(ctx, types.NewID()); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

// TestGetUserVisibility tests who can read a directory entry.
func TestGetUserVisibility(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	org := types.NewID()
	member := &User{ID: types.NewID(), Role: auth.RoleMember, OrganizationID: org.Ptr()}
	store.CreateUser(ctx, member)

	self := auth.NewSubject(member.Actor())
	stranger := auth.NewSubject(auth.Actor{ID: types.NewID(), Role: auth.RoleMember})
	orgAdmin := auth.NewSubject(auth.Actor{ID: types.NewID(), Role: auth.RoleAdmin},
		auth.Membership{OrganizationID: org, Status: auth.MembershipApproved})

	if _, err := svc.GetUser(ctx, self, member.ID); err != nil {
		t.Errorf("Expected self read, got %v", err)
	}
	if _, err := svc.GetUser(ctx, orgAdmin, member.ID); err != nil {
		t.Errorf("Expected org admin read, got %v", err)
	}
	if _, err := svc.GetUser(ctx, stranger, member.ID); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for stranger, got %v", err)
	}
}

// TestCreateOrganizationHandler tests the HTTP create path.
func TestCreateOrganizationHandler(t *testing.T) {
	svc, _ := newTestService()
	router := chi.NewRouter()
	router.Mount("/", NewHandler(svc).Routes())

	body, _ := json.Marshal(map[string]string{"name": "Harbor Workers"})
	req := httptest.NewRequest(http.MethodPost, "/organizations", bytes.NewReader(body))
	req = req.WithContext(sharedauth.WithSubject(req.Context(), superAdmin()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var org Organization
	if err := json.NewDecoder(rec.Body).Decode(&org); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if org.Name != "Harbor Workers" || org.ID.IsZero() {
		t.Errorf("Unexpected organization: %+v", org)
	}

	req = httptest.NewRequest(http.MethodPost, "/organizations", bytes.NewReader([]byte(`{"name":""}`)))
	req = req.WithContext(sharedauth.WithSubject(req.Context(), superAdmin()))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty name, got %d", rec.Code)
	}
}
