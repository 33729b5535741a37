package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unionlegal/platform/internal/auth"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/request"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Handler provides HTTP handlers for memberships
type Handler struct {
	service *Service
}

// NewHandler creates a new membership handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the membership routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Apply)
	r.Get("/{membershipID}", h.Get)
	r.Post("/{membershipID}/approve", h.Approve)
	r.Post("/{membershipID}/reject", h.Reject)

	return r
}

// Apply applies for membership in an organization
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return
	}

	var req ApplyRequest
	if err := request.Decode(r, &req); err != nil {
		request.WriteError(w, err)
		return
	}

	id, err := h.service.Apply(r.Context(), subject, req.OrganizationID)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, map[string]any{"id": id})
}

// List lists the caller's memberships, or an organization's when
// organization_id is given.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return
	}

	q := r.URL.Query()
	var (
		list []Membership
		err  error
	)
	if raw := q.Get("organization_id"); raw != "" {
		orgID, perr := types.ParseID(raw)
		if perr != nil {
			request.WriteError(w, errors.BadRequest("invalid organization ID"))
			return
		}
		var status *Status
		if s := q.Get("status"); s != "" {
			st := Status(s)
			status = &st
		}
		list, err = h.service.ListForOrganization(r.Context(), subject, orgID, status)
	} else {
		list, err = h.service.ListForActor(r.Context(), subject, subject.Actor.ID)
	}
	if err != nil {
		request.WriteError(w, err)
		return
	}
	if list == nil {
		list = []Membership{}
	}

	request.WriteJSON(w, http.StatusOK, map[string]any{"data": list})
}

// Get gets a membership by ID
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := h.target(w, r)
	if !ok {
		return
	}

	m, err := h.service.Get(r.Context(), subject, id)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, m)
}

// Approve approves a pending membership
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := h.target(w, r)
	if !ok {
		return
	}

	m, err := h.service.Approve(r.Context(), subject, id)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, m)
}

// Reject rejects a pending membership
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	subject, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var req RejectRequest
	if r.ContentLength != 0 {
		if err := request.Decode(r, &req); err != nil {
			request.WriteError(w, err)
			return
		}
	}

	m, err := h.service.Reject(r.Context(), subject, id, req.Reason)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (subject auth.Subject, id types.ID, ok bool) {
	subject, ok = sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return subject, id, false
	}

	id, err := types.ParseID(chi.URLParam(r, "membershipID"))
	if err != nil {
		request.WriteError(w, errors.BadRequest("invalid membership ID"))
		return subject, id, false
	}
	return subject, id, true
}
