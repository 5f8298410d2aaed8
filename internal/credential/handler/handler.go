package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"vericred/internal/credential/models"
	"vericred/internal/credential/service"
	identityModels "vericred/internal/identity/models"
	"vericred/internal/platform/middleware"
	"vericred/internal/transport/http/shared"
	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/requestcontext"
)

// IdentityLoader resolves the authenticated identity for the request.
type IdentityLoader interface {
	GetByID(ctx context.Context, identityID id.IdentityID) (*identityModels.Identity, error)
}

// Handler serves the credential lifecycle endpoints.
type Handler struct {
	credentials *service.Service
	identities  IdentityLoader
	logger      *slog.Logger
}

func New(credentials *service.Service, identities IdentityLoader, logger *slog.Logger) *Handler {
	return &Handler{credentials: credentials, identities: identities, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/credentials", h.handleListHeld)
	r.Post("/credentials/import", h.handleImport)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(identityModels.RoleIssuer.String()))
		r.Post("/credentials/issue", h.handleIssue)
		r.Post("/credentials/{id}/revoke", h.handleRevoke)
		r.Get("/credentials/issued", h.handleListIssued)
	})
}

type issueRequest struct {
	Type       string        `json:"type"`
	SubjectDID string        `json:"subjectDid"`
	Claims     models.Claims `json:"claims"`
	ExpiresAt  *time.Time    `json:"expiresAt,omitempty"`
}

func (req issueRequest) validate() error {
	if !govalidator.StringLength(req.Type, "1", "128") {
		return dErrors.New(dErrors.CodeInvalidInput, "type must be 1-128 characters")
	}
	if !govalidator.StringLength(req.SubjectDID, "1", "256") {
		return dErrors.New(dErrors.CodeInvalidInput, "subjectDid is required")
	}
	return nil
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		shared.WriteError(w, err)
		return
	}
	issuer, err := h.identities.GetByID(ctx, requestcontext.IdentityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	credential, err := h.credentials.Issue(ctx, issuer, service.IssueInput{
		Type:       req.Type,
		SubjectDID: req.SubjectDID,
		Claims:     req.Claims,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, credential)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	credential, err := h.credentials.Revoke(ctx, requestcontext.IdentityID(ctx), credentialID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, credential)
}

func (h *Handler) handleListHeld(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, err := h.identities.GetByID(ctx, requestcontext.IdentityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	views, err := h.credentials.ListForHolder(ctx, holder)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) handleListIssued(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	views, err := h.credentials.ListIssuedBy(ctx, requestcontext.IdentityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	owner, err := h.identities.GetByID(ctx, requestcontext.IdentityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	credential, err := h.credentials.Import(ctx, owner, raw)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, credential)
}
