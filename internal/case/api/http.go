package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/case/domain"
	"github.com/unionlegal/platform/internal/case/service"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/middleware"
	"github.com/unionlegal/platform/internal/shared/request"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the case module
type Handler struct {
	engine *service.Engine
	claims *middleware.KeyedRateLimiter
}

// NewHandler creates a new case handler. claims may be nil to leave claim
// requests unthrottled.
func NewHandler(engine *service.Engine, claims *middleware.KeyedRateLimiter) *Handler {
	return &Handler{engine: engine, claims: claims}
}

// Routes registers the case routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListCases)
	r.Post("/", h.CreateCase)
	r.Get("/available", h.ListAvailable)

	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.GetCase)

		// Assignment
		r.With(h.throttle).Post("/claim", h.ClaimCase)
		r.Post("/assign", h.AssignCase)

		// Thread
		r.Post("/responses", h.Respond)
		r.Get("/replies", h.ListReplies)
		r.Post("/replies", h.AddReply)

		r.Post("/complete", h.CompleteCase)
	})

	return r
}

func (h *Handler) throttle(next http.Handler) http.Handler {
	if h.claims == nil {
		return next
	}
	return h.claims.Middleware(sharedauth.ActorKey)(next)
}

// --- Request/Response types ---

type CreateCaseRequest struct {
	Title        string `json:"title" validate:"required,max=255"`
	Category     string `json:"category" validate:"required,max=64"`
	IncidentDate string `json:"incident_date" validate:"required,datetime=2006-01-02"`
	Description  string `json:"description" validate:"required,max=20000"`
}

type AssignCaseRequest struct {
	LawyerID      types.ID `json:"lawyer_id" validate:"required,uuid"`
	FirstResponse *string  `json:"first_response,omitempty" validate:"omitempty,max=20000"`
}

type ContentRequest struct {
	Content string `json:"content" validate:"required,max=20000"`
}

// --- Handlers ---

// CreateCase files a new case
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	var req CreateCaseRequest
	if err := request.Decode(r, &req); err != nil {
		request.WriteError(w, err)
		return
	}
	incident, err := time.Parse("2006-01-02", req.IncidentDate)
	if err != nil {
		request.WriteError(w, errors.BadRequest("invalid incident date"))
		return
	}

	c, err := h.engine.Create(r.Context(), subject, service.NewCaseInput{
		Title:        req.Title,
		Category:     req.Category,
		IncidentDate: incident,
		Description:  req.Description,
	})
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusCreated, c)
}

// ListCases lists the caller's cases
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	filter := listFilter(r)
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.Status(s)
		filter.Status = &status
	}

	views, total, err := h.engine.ListMine(r.Context(), subject, filter)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, map[string]any{
		"data":   views,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// ListAvailable lists claimable cases with the reporter redacted
func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return
	}

	filter := listFilter(r)
	cases, total, err := h.engine.ListAvailable(r.Context(), subject, filter)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  cases,
		"total": total,
	})
}

// GetCase gets a case by ID
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := target(w, r)
	if !ok {
		return
	}

	view, err := h.engine.Get(r.Context(), subject, id)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, view)
}

// ClaimCase claims a pending case for the calling lawyer
func (h *Handler) ClaimCase(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := target(w, r)
	if !ok {
		return
	}

	c, err := h.engine.Claim(r.Context(), subject, id)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, c)
}

// AssignCase assigns a lawyer on behalf of an administrator
func (h *Handler) AssignCase(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := target(w, r)
	if !ok {
		return
	}

	var req AssignCaseRequest
	if err := request.Decode(r, &req); err != nil {
		request.WriteError(w, err)
		return
	}

	c, err := h.engine.Assign(r.Context(), subject, id, req.LawyerID, req.FirstResponse)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, c)
}

// Respond submits a lawyer response
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := target(w, r)
	if !ok {
		return
	}

	var req ContentRequest
	if err := request.Decode(r, &req); err != nil {
		request.WriteError(w, err)
		return
	}

	c, err := h.engine.Respond(r.Context(), subject, id, req.Content)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, c)
}

// ListReplies lists the reply thread
func (h *Handler) ListReplies(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := target(w, r)
	if !ok {
		return
	}

	replies, err := h.engine.Replies(r.Context(), subject, id)
	if err != nil {
		request.WriteError(w, err)
		return
	}
	if replies == nil {
		replies = []service.ReplyView{}
	}

	request.WriteJSON(w, http.StatusOK, map[string]any{"data": replies})
}

// AddReply appends a reply
func (h *Handler) AddReply(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := target(w, r)
	if !ok {
		return
	}

	var req ContentRequest
	if err := request.Decode(r, &req); err != nil {
		request.WriteError(w, err)
		return
	}

	reply, err := h.engine.Reply(r.Context(), subject, id, req.Content)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusCreated, reply)
}

// CompleteCase marks a case resolved
func (h *Handler) CompleteCase(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := target(w, r)
	if !ok {
		return
	}

	c, err := h.engine.Complete(r.Context(), subject, id)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, c)
}

// --- Helpers ---

func subjectOf(w http.ResponseWriter, r *http.Request) (auth.Subject, bool) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
	}
	return subject, ok
}

func target(w http.ResponseWriter, r *http.Request) (auth.Subject, types.ID, bool) {
	subject, ok := subjectOf(w, r)
	if !ok {
		return subject, "", false
	}

	id, err := types.ParseID(chi.URLParam(r, "caseID"))
	if err != nil {
		request.WriteError(w, errors.BadRequest("invalid case ID"))
		return subject, "", false
	}
	return subject, id, true
}

func listFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	if l := q.Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}
	if o := q.Get("offset"); o != "" {
		filter.Offset, _ = strconv.Atoi(o)
	}
	filter.Normalize()
	return filter
}
