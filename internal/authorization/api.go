package authorization

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unionlegal/platform/internal/auth"
	sharedauth "github.com/unionlegal/platform/internal/shared/auth"
	"github.com/unionlegal/platform/internal/shared/errors"
	"github.com/unionlegal/platform/internal/shared/request"
)

// Handler serves the caller's authorization record
type Handler struct {
	healer    *Healer
	evaluator *auth.Evaluator
}

// NewHandler creates a new authorization handler
func NewHandler(healer *Healer, evaluator *auth.Evaluator) *Handler {
	return &Handler{healer: healer, evaluator: evaluator}
}

// Routes registers the authorization routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetMine)
	return r
}

// GetMine returns the caller's record, healing it if missing
func (h *Handler) GetMine(w http.ResponseWriter, r *http.Request) {
	subject, ok := sharedauth.SubjectFrom(r.Context())
	if !ok {
		request.WriteError(w, errors.Unauthorized("authentication required"))
		return
	}

	actor := subject.Actor
	if err := sharedauth.Check(h.evaluator, subject, auth.ResourceAuthorizationRecord, auth.ActionRead, auth.OwnedBy(actor.ID)); err != nil {
		request.WriteError(w, err)
		return
	}

	record, err := h.healer.EnsureAuthorizationRecord(r.Context(), actor.ID, nil)
	if err != nil {
		request.WriteError(w, err)
		return
	}

	request.WriteJSON(w, http.StatusOK, record)
}
