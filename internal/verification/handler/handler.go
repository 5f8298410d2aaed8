package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vericred/internal/transport/http/shared"
	"vericred/internal/verification/service"
	dErrors "vericred/pkg/domain-errors"
)

// Handler serves the public verification endpoint. No session is required:
// anyone holding a credential document or a DID may ask for verification.
type Handler struct {
	verifier *service.Service
	logger   *slog.Logger
}

func New(verifier *service.Service, logger *slog.Logger) *Handler {
	return &Handler{verifier: verifier, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/credentials/verify", h.handleVerify)
}

type verifyRequest struct {
	CredentialJSON json.RawMessage `json:"credentialJson,omitempty"`
	HolderDID      string          `json:"holderDid,omitempty"`
	CredentialType string          `json:"credentialType,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	result, err := h.verifier.Verify(r.Context(), service.Input{
		Document:   req.CredentialJSON,
		SubjectDID: req.HolderDID,
		Type:       req.CredentialType,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}
