package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vericred/internal/identity/models"
	"vericred/internal/platform/middleware"
	templateModel "vericred/internal/template/models"
	"vericred/internal/template/service"
	"vericred/internal/transport/http/shared"
	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/requestcontext"
)

// Handler serves template CRUD for issuers and the template catalogue for
// everyone authenticated.
type Handler struct {
	templates *service.Service
	logger    *slog.Logger
}

func New(templates *service.Service, logger *slog.Logger) *Handler {
	return &Handler{templates: templates, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/templates", h.handleList)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(models.RoleIssuer.String()))
		r.Post("/templates", h.handleCreate)
		r.Patch("/templates/{id}", h.handleUpdate)
		r.Delete("/templates/{id}", h.handleDelete)
	})
}

type templateRequest struct {
	Name        string              `json:"name"`
	Category    string              `json:"category,omitempty"`
	Description string              `json:"description,omitempty"`
	Schema      templateModel.Schema `json:"schema"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	template, err := h.templates.Create(ctx, requestcontext.IdentityID(ctx), service.CreateInput{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		Schema:      req.Schema,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, template)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	templateID, err := id.ParseTemplateID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	template, err := h.templates.Update(ctx, requestcontext.IdentityID(ctx), templateID, service.CreateInput{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		Schema:      req.Schema,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, template)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	templateID, err := id.ParseTemplateID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.templates.Delete(ctx, requestcontext.IdentityID(ctx), templateID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, templates)
}
