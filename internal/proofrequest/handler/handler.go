package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	identityModels "vericred/internal/identity/models"
	"vericred/internal/platform/middleware"
	"vericred/internal/proofrequest/models"
	"vericred/internal/proofrequest/service"
	"vericred/internal/transport/http/shared"
	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/requestcontext"
)

// IdentityLoader resolves the authenticated identity for the request.
type IdentityLoader interface {
	GetByID(ctx context.Context, identityID id.IdentityID) (*identityModels.Identity, error)
}

// Handler serves the proof request and response endpoints.
type Handler struct {
	proofs     *service.Service
	identities IdentityLoader
	logger     *slog.Logger
}

func New(proofs *service.Service, identities IdentityLoader, logger *slog.Logger) *Handler {
	return &Handler{proofs: proofs, identities: identities, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(identityModels.RoleHolder.String()))
		r.Get("/proof-requests/available", h.handleAvailable)
		r.Post("/proof-responses", h.handleRespond)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(identityModels.RoleVerifier.String()))
		r.Post("/proof-requests", h.handleCreate)
		r.Get("/proof-requests", h.handleList)
		r.Get("/proof-requests/{id}/responses", h.handleListResponses)
		r.Patch("/proof-responses/{id}", h.handleDecide)
	})
}

type createRequest struct {
	RequestedTypes []string   `json:"requestedTypes"`
	TargetHolders  []string   `json:"targetHolders,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

func (req createRequest) validate() error {
	if len(req.RequestedTypes) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "requestedTypes is required")
	}
	if !govalidator.StringLength(req.Title, "1", "200") {
		return dErrors.New(dErrors.CodeInvalidInput, "title must be 1-200 characters")
	}
	if !govalidator.StringLength(req.Description, "0", "1000") {
		return dErrors.New(dErrors.CodeInvalidInput, "description must be at most 1000 characters")
	}
	return nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		shared.WriteError(w, err)
		return
	}
	verifier, err := h.identities.GetByID(ctx, requestcontext.IdentityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	request, err := h.proofs.Create(ctx, verifier, service.CreateInput{
		RequestedTypes: req.RequestedTypes,
		TargetHolders:  req.TargetHolders,
		Title:          req.Title,
		Description:    req.Description,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, request)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requests, err := h.proofs.ListForVerifier(ctx, requestcontext.IdentityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, requests)
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	holder, err := h.identities.GetByID(ctx, requestcontext.IdentityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	requests, err := h.proofs.AvailableFor(ctx, holder)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, requests)
}

func (h *Handler) handleListResponses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseProofRequestID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	responses, err := h.proofs.ListResponses(ctx, requestcontext.IdentityID(ctx), requestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, responses)
}

// respondRequest is the holder's answer. An explicit status of REJECTED is a
// decline; any other value than PENDING or empty is rejected.
type respondRequest struct {
	ProofRequestID       string           `json:"proofRequestId"`
	PresentedCredentials []string         `json:"presentedCredentials,omitempty"`
	ProofData            models.ProofData `json:"proofData,omitempty"`
	Status               string           `json:"status,omitempty"`
	Message              string           `json:"message,omitempty"`
}

func (req respondRequest) decline() (bool, error) {
	switch models.ResponseStatus(req.Status) {
	case "", models.ResponsePending:
		return false, nil
	case models.ResponseRejected:
		return true, nil
	default:
		return false, dErrors.New(dErrors.CodeInvalidInput, "status must be REJECTED or omitted")
	}
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	requestID, err := id.ParseProofRequestID(req.ProofRequestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	decline, err := req.decline()
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	credentialIDs := make([]id.CredentialID, 0, len(req.PresentedCredentials))
	for _, raw := range req.PresentedCredentials {
		credentialID, err := id.ParseCredentialID(raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		credentialIDs = append(credentialIDs, credentialID)
	}
	holder, err := h.identities.GetByID(ctx, requestcontext.IdentityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	response, err := h.proofs.Respond(ctx, holder, service.RespondInput{
		ProofRequestID: requestID,
		CredentialIDs:  credentialIDs,
		ProofData:      req.ProofData,
		Decline:        decline,
		Message:        req.Message,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, response)
}

type decideRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	responseID, err := id.ParseProofResponseID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	response, err := h.proofs.Decide(ctx, requestcontext.IdentityID(ctx), responseID, req.Status)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, response)
}
