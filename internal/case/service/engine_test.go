package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/case/domain"
	"github.com/unionlegal/platform/internal/case/infrastructure"
	"github.com/unionlegal/platform/internal/directory"
	"github.com/unionlegal/platform/internal/notification"
	"github.com/unionlegal/platform/internal/privacy"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/events"
	"github.com/unionlegal/platform/internal/shared/types"
)

type fixture struct {
	engine   *Engine
	repo     *infrastructure.MemoryRepository
	users    *directory.MemoryStore
	recorder *notification.Recorder
	org      types.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := directory.NewMemoryStore()
	evaluator := auth.NewEvaluator(auth.DefaultTable())
	f := &fixture{
		repo:     infrastructure.NewMemoryRepository(),
		users:    users,
		recorder: notification.NewRecorder(),
		org:      types.NewID(),
	}
	f.engine = NewEngine(f.repo, directory.NewService(users, evaluator, nil), evaluator, f.recorder, privacy.NewPseudonymizer(""), nil)
	return f
}

func (f *fixture) user(t *testing.T, role auth.Role, org *types.ID) auth.Subject {
	t.Helper()
	u := &directory.User{ID: types.NewID(), Role: role, OrganizationID: org}
	if err := f.users.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	var memberships []auth.Membership
	if org != nil {
		memberships = append(memberships, auth.Membership{OrganizationID: *org, Status: auth.MembershipApproved})
	}
	return auth.NewSubject(u.Actor(), memberships...)
}

func (f *fixture) report(t *testing.T, reporter auth.Subject) *domain.Case {
	t.Helper()
	c, err := f.engine.Create(context.Background(), reporter, NewCaseInput{
		Title:        "Unsafe scaffolding",
		Category:     "workplace_safety",
		IncidentDate: time.Now().AddDate(0, 0, -2),
		Description:  "Scaffolding on site 4 has no guard rails",
	})
	if err != nil {
		t.Fatalf("Failed to create case: %v", err)
	}
	return c
}

// TestConcurrentClaims tests that exactly one of many concurrent claims wins.
func TestConcurrentClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.report(t, f.user(t, auth.RoleMember, &f.org))

	const n = 20
	lawyers := make([]auth.Subject, n)
	for i := range lawyers {
		lawyers[i] = f.user(t, auth.RoleLawyer, nil)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []types.ID
	lost := 0
	start := make(chan struct{})
	for _, lawyer := range lawyers {
		wg.Add(1)
		go func(lawyer auth.Subject) {
			defer wg.Done()
			<-start
			_, err := f.engine.Claim(ctx, lawyer, c.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, lawyer.Actor.ID)
			case errors.Is(err, errors.ErrAlreadyClaimed):
				lost++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}(lawyer)
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 || lost != n-1 {
		t.Fatalf("Expected 1 winner and %d losers, got %d and %d", n-1, len(winners), lost)
	}

	stored, _ := f.repo.FindByID(ctx, c.ID)
	if !stored.IsAssignedTo(winners[0]) || stored.Status != domain.StatusUnderReview {
		t.Errorf("Expected case assigned to winner, got %+v", stored)
	}
	if got := len(f.recorder.OfType(events.TypeCaseAssigned)); got != 1 {
		t.Errorf("Expected 1 assigned event, got %d", got)
	}
}

// TestClaimOutcomes tests that claim failures are distinguishable.
func TestClaimOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.user(t, auth.RoleMember, nil)
	c := f.report(t, member)

	if _, err := f.engine.Claim(ctx, f.user(t, auth.RoleLawyer, nil), types.NewID()); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if _, err := f.engine.Claim(ctx, member, c.ID); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for member, got %v", err)
	}
	admin := f.user(t, auth.RoleAdmin, &f.org)
	if _, err := f.engine.Claim(ctx, admin, c.ID); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for admin, got %v", err)
	}
}

// TestAssignNeverOverwrites tests administrative assignment on an assigned case.
func TestAssignNeverOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.report(t, f.user(t, auth.RoleMember, &f.org))
	first := f.user(t, auth.RoleLawyer, nil)
	second := f.user(t, auth.RoleLawyer, nil)
	admin := f.user(t, auth.RoleAdmin, &f.org)

	if _, err := f.engine.Claim(ctx, first, c.ID); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}

	_, err := f.engine.Assign(ctx, admin, c.ID, second.Actor.ID, nil)
	if !errors.Is(err, errors.ErrAlreadyAssigned) {
		t.Fatalf("Expected already assigned, got %v", err)
	}

	stored, _ := f.repo.FindByID(ctx, c.ID)
	if !stored.IsAssignedTo(first.Actor.ID) {
		t.Errorf("Expected lawyer %s to remain, got %v", first.Actor.ID, stored.LawyerID)
	}
}

// TestAssignWithFirstResponse tests assignment that answers in the same write.
func TestAssignWithFirstResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reporter := f.user(t, auth.RoleMember, &f.org)
	c := f.report(t, reporter)
	lawyer := f.user(t, auth.RoleLawyer, nil)
	admin := f.user(t, auth.RoleAdmin, &f.org)

	response := "Report it to the labor inspectorate"
	got, err := f.engine.Assign(ctx, admin, c.ID, lawyer.Actor.ID, &response)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.Status != domain.StatusAnswered || got.Response == nil || *got.Response != response {
		t.Errorf("Expected answered with response, got %+v", got)
	}

	assigned := f.recorder.OfType(events.TypeCaseAssigned)
	if len(assigned) != 1 || len(assigned[0].Recipients) != 2 {
		t.Fatalf("Expected assigned event to reporter and lawyer, got %+v", assigned)
	}
	if len(f.recorder.OfType(events.TypeCaseAnswered)) != 1 {
		t.Error("Expected answered event")
	}
}

// TestAssignPermissions tests who may assign and to whom.
func TestAssignPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.report(t, f.user(t, auth.RoleMember, &f.org))
	lawyer := f.user(t, auth.RoleLawyer, nil)

	otherOrg := types.NewID()
	foreignAdmin := f.user(t, auth.RoleAdmin, &otherOrg)
	if _, err := f.engine.Assign(ctx, foreignAdmin, c.ID, lawyer.Actor.ID, nil); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for foreign admin, got %v", err)
	}
	if _, err := f.engine.Assign(ctx, lawyer, c.ID, lawyer.Actor.ID, nil); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for lawyer, got %v", err)
	}

	admin := f.user(t, auth.RoleAdmin, &f.org)
	member := f.user(t, auth.RoleMember, nil)
	if _, err := f.engine.Assign(ctx, admin, c.ID, member.Actor.ID, nil); !errors.Is(err, errors.ErrBadRequest) {
		t.Errorf("Expected bad request for non-lawyer assignee, got %v", err)
	}

	superAdmin := f.user(t, auth.RoleSuperAdmin, nil)
	if _, err := f.engine.Assign(ctx, superAdmin, c.ID, lawyer.Actor.ID, nil); err != nil {
		t.Errorf("Expected super admin to assign, got %v", err)
	}
}

// TestListAvailableRedaction tests that the claimable listing hides the reporter.
func TestListAvailableRedaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reporter := f.user(t, auth.RoleMember, &f.org)
	c := f.report(t, reporter)
	f.report(t, reporter)
	lawyer := f.user(t, auth.RoleLawyer, nil)

	list, total, err := f.engine.ListAvailable(ctx, lawyer, domain.ListFilter{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("Expected 2 available cases, got %d", total)
	}

	body, _ := json.Marshal(list)
	if strings.Contains(string(body), reporter.Actor.ID.String()) {
		t.Errorf("Listing leaks reporter id: %s", body)
	}
	if strings.Contains(string(body), "reporter") {
		t.Errorf("Listing exposes a reporter field: %s", body)
	}

	if _, err := f.engine.Claim(ctx, lawyer, c.ID); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	_, total, _ = f.engine.ListAvailable(ctx, lawyer, domain.ListFilter{})
	if total != 1 {
		t.Errorf("Expected claimed case to leave the listing, got %d", total)
	}

	if _, _, err := f.engine.ListAvailable(ctx, reporter, domain.ListFilter{}); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for member, got %v", err)
	}
}

// TestGetVisibility tests the per-role views of a single case.
func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reporter := f.user(t, auth.RoleMember, &f.org)
	c := f.report(t, reporter)
	lawyerA := f.user(t, auth.RoleLawyer, nil)
	lawyerB := f.user(t, auth.RoleLawyer, nil)

	view, err := f.engine.Get(ctx, lawyerB, c.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if view.Case != nil || view.Listing == nil || view.Reporter != "" {
		t.Errorf("Expected redacted listing before assignment, got %+v", view)
	}

	f.engine.Claim(ctx, lawyerA, c.ID)

	if _, err := f.engine.Get(ctx, lawyerB, c.ID); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for other lawyer, got %v", err)
	}

	view, err = f.engine.Get(ctx, lawyerA, c.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if view.Case == nil || view.Case.ReporterID != "" {
		t.Errorf("Expected full case without reporter id, got %+v", view.Case)
	}
	if view.Reporter != "member-"+reporter.Actor.ID.String() {
		t.Errorf("Expected pseudonym label, got %q", view.Reporter)
	}

	view, err = f.engine.Get(ctx, reporter, c.ID)
	if err != nil || view.Case.ReporterID != reporter.Actor.ID {
		t.Errorf("Expected reporter to see own case, got %+v (%v)", view, err)
	}

	stranger := f.user(t, auth.RoleMember, nil)
	if _, err := f.engine.Get(ctx, stranger, c.ID); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for another member, got %v", err)
	}

	if _, err := f.engine.Get(ctx, reporter, types.NewID()); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

// TestAnswerReplyAnswer tests the answer, follow-up and second answer cycle.
func TestAnswerReplyAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reporter := f.user(t, auth.RoleMember, &f.org)
	c := f.report(t, reporter)
	lawyer := f.user(t, auth.RoleLawyer, nil)

	if _, err := f.engine.Claim(ctx, lawyer, c.ID); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}

	got, err := f.engine.Respond(ctx, lawyer, c.ID, "Stop work and photograph the site")
	if err != nil {
		t.Fatalf("Failed to respond: %v", err)
	}
	if got.Status != domain.StatusAnswered || got.AnsweredAt == nil {
		t.Fatalf("Expected answered, got %+v", got)
	}

	reply, err := f.engine.Reply(ctx, reporter, c.ID, "Can I be dismissed for refusing?")
	if err != nil {
		t.Fatalf("Failed to reply: %v", err)
	}
	if reply.IsLawyerReply {
		t.Error("Expected reporter reply")
	}
	stored, _ := f.repo.FindByID(ctx, c.ID)
	if stored.Status != domain.StatusFollowUp {
		t.Fatalf("Expected follow up, got %s", stored.Status)
	}

	got, err = f.engine.Respond(ctx, lawyer, c.ID, "No, refusal of unsafe work is protected")
	if err != nil {
		t.Fatalf("Failed to respond: %v", err)
	}
	if got.Status != domain.StatusAnswered {
		t.Errorf("Expected answered, got %s", got.Status)
	}
	if *got.Response != "Stop work and photograph the site" {
		t.Errorf("Expected primary response unchanged, got %q", *got.Response)
	}

	replies, err := f.engine.Replies(ctx, reporter, c.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(replies) != 2 || replies[0].IsLawyerReply || !replies[1].IsLawyerReply {
		t.Fatalf("Expected reporter then lawyer reply, got %+v", replies)
	}

	if n := len(f.recorder.OfType(events.TypeCaseAnswered)); n != 2 {
		t.Errorf("Expected 2 answered events, got %d", n)
	}
}

// TestRepliesHideReporterFromLawyer tests that the thread shows the lawyer a
// pseudonym instead of the reporter's id.
func TestRepliesHideReporterFromLawyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evaluator := auth.NewEvaluator(auth.DefaultTable())
	pseudonyms := privacy.NewPseudonymizer("secret-key")
	f.engine = NewEngine(f.repo, directory.NewService(f.users, evaluator, nil), evaluator, f.recorder, pseudonyms, nil)

	reporter := f.user(t, auth.RoleMember, &f.org)
	c := f.report(t, reporter)
	lawyer := f.user(t, auth.RoleLawyer, nil)

	if _, err := f.engine.Claim(ctx, lawyer, c.ID); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if _, err := f.engine.Respond(ctx, lawyer, c.ID, "Keep copies of your contract"); err != nil {
		t.Fatalf("Failed to respond: %v", err)
	}
	if _, err := f.engine.Reply(ctx, reporter, c.ID, "The employer kept the original"); err != nil {
		t.Fatalf("Failed to reply: %v", err)
	}
	if _, err := f.engine.Respond(ctx, lawyer, c.ID, "Request a copy in writing"); err != nil {
		t.Fatalf("Failed to respond: %v", err)
	}

	thread, err := f.engine.Replies(ctx, lawyer, c.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("Expected 2 replies, got %d", len(thread))
	}

	label := pseudonyms.Label(reporter.Actor.ID)
	if thread[0].AuthorID != "" || thread[0].Author != label {
		t.Errorf("Expected reporter reply by %s without id, got author=%q id=%q", label, thread[0].Author, thread[0].AuthorID)
	}
	if thread[1].AuthorID != lawyer.Actor.ID {
		t.Errorf("Expected lawyer reply by %s, got %s", lawyer.Actor.ID, thread[1].AuthorID)
	}

	raw, _ := json.Marshal(thread)
	if strings.Contains(string(raw), reporter.Actor.ID.String()) {
		t.Errorf("Expected thread to omit reporter id, got %s", raw)
	}

	own, err := f.engine.Replies(ctx, reporter, c.ID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if own[0].AuthorID != reporter.Actor.ID {
		t.Errorf("Expected reporter to see own id, got %q", own[0].AuthorID)
	}
}

// TestRespondPermissions tests that only the assigned lawyer responds.
func TestRespondPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reporter := f.user(t, auth.RoleMember, nil)
	c := f.report(t, reporter)
	lawyer := f.user(t, auth.RoleLawyer, nil)
	other := f.user(t, auth.RoleLawyer, nil)

	if _, err := f.engine.Respond(ctx, lawyer, c.ID, "Early"); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden while unassigned, got %v", err)
	}

	f.engine.Claim(ctx, lawyer, c.ID)
	if _, err := f.engine.Respond(ctx, other, c.ID, "Hijack"); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for other lawyer, got %v", err)
	}
	if _, err := f.engine.Reply(ctx, other, c.ID, "Hello"); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden reply for other lawyer, got %v", err)
	}
	if _, err := f.engine.Respond(ctx, reporter, c.ID, "Self answer"); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for reporter, got %v", err)
	}
}

// TestComplete tests resolution and immutability afterwards.
func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reporter := f.user(t, auth.RoleMember, nil)
	c := f.report(t, reporter)
	lawyer := f.user(t, auth.RoleLawyer, nil)

	if _, err := f.engine.Complete(ctx, reporter, c.ID); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition for pending case, got %v", err)
	}

	f.engine.Claim(ctx, lawyer, c.ID)
	f.engine.Respond(ctx, lawyer, c.ID, "Answer")

	if _, err := f.engine.Complete(ctx, lawyer, c.ID); !errors.Is(err, errors.ErrForbidden) {
		t.Errorf("Expected forbidden for lawyer, got %v", err)
	}
	done, err := f.engine.Complete(ctx, reporter, c.ID)
	if err != nil || done.Status != domain.StatusCompleted {
		t.Fatalf("Expected completed, got %+v (%v)", done, err)
	}

	if _, err := f.engine.Respond(ctx, lawyer, c.ID, "More"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition, got %v", err)
	}
	if _, err := f.engine.Reply(ctx, reporter, c.ID, "Thanks"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition, got %v", err)
	}
}

// TestListMine tests the per-role case lists.
func TestListMine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reporter := f.user(t, auth.RoleMember, &f.org)
	c := f.report(t, reporter)
	f.report(t, f.user(t, auth.RoleMember, nil))
	lawyer := f.user(t, auth.RoleLawyer, nil)
	f.engine.Claim(ctx, lawyer, c.ID)

	tests := []struct {
		name     string
		subject  auth.Subject
		expected int
	}{
		{"reporter", reporter, 1},
		{"lawyer", lawyer, 1},
		{"admin of organization", f.user(t, auth.RoleAdmin, &f.org), 1},
		{"admin without organization", f.user(t, auth.RoleAdmin, nil), 0},
		{"super admin", f.user(t, auth.RoleSuperAdmin, nil), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views, _, err := f.engine.ListMine(ctx, tt.subject, domain.ListFilter{})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(views) != tt.expected {
				t.Errorf("Expected %d cases, got %d", tt.expected, len(views))
			}
		})
	}
}

// TestDispatchFailureKeepsClaim tests that dispatch errors never fail a claim.
func TestDispatchFailureKeepsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.recorder.Err = stderrors.New("buffer full")
	c := f.report(t, f.user(t, auth.RoleMember, nil))
	lawyer := f.user(t, auth.RoleLawyer, nil)

	if _, err := f.engine.Claim(ctx, lawyer, c.ID); err != nil {
		t.Fatalf("Expected claim to succeed, got %v", err)
	}
	stored, _ := f.repo.FindByID(ctx, c.ID)
	if !stored.IsAssignedTo(lawyer.Actor.ID) {
		t.Error("Expected claim to stand")
	}
}
