package directory

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/request"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the directory module
type Handler struct {
	service *Service
}

// NewHandler creates a new directory handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the directory routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/organizations", func(r chi.Router) {
		r.Get("/", h.ListOrganizations)
		r.Post("/", h.CreateOrganization)
		r.Get("/{organizationID}", h.GetOrganization)
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.RegisterUser)
		r.Get("/{userID}", h.GetUser)
	})

	return r
}

// ListOrganizations lists organizations
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return
	}

	filter := ListOrganizationsFilter{Search: r.URL.Query().Get("search")}
	if l := r.URL.Query().Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		filter.Offset, _ = strconv.Atoi(o)
	}

	orgs, total, err := h.service.ListOrganizations(r.Context(), subject, filter)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  orgs,
		"total": total,
	})
}

// CreateOrganization creates an organization
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return
	}

	var req CreateOrganizationRequest
	if err := request.Decode(r, &req); err != nil {
		request.WriteError(w, err)
		return
	}

	org, err := h.service.CreateOrganization(r.Context(), subject, req)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusCreated, org)
}

// GetOrganization gets an organization by ID
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return
	}

	id, err := types.ParseID(chi.URLParam(r, "organizationID"))
	if err != nil {
		request.WriteError(w, errors.BadRequest("invalid organization ID"))
		return
	}

	org, err := h.service.GetOrganization(r.Context(), subject, id)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, org)
}

// RegisterUser adds a user to the directory
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return
	}

	var req CreateUserRequest
	if err := request.Decode(r, &req); err != nil {
		request.WriteError(w, err)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), subject, req)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusCreated, user)
}

// GetUser gets a user by ID
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return
	}

	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		request.WriteError(w, errors.BadRequest("invalid user ID"))
		return
	}

	user, err := h.service.GetUser(r.Context(), subject, id)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, user)
}
