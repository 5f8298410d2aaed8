package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"vericred/internal/identity/models"
	"vericred/internal/identity/service"
	"vericred/internal/ratelimit"
	"vericred/internal/transport/http/shared"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/requestcontext"
)

// Authenticator is the slice of the identity service this handler needs.
type Authenticator interface {
	Authenticate(ctx context.Context, walletAddress, signature, requestedRole string) (*service.AuthResult, error)
}

// Handler serves wallet authentication.
type Handler struct {
	auth   Authenticator
	logger *slog.Logger
}

func New(auth Authenticator, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, logger: logger}
}

// Register mounts the auth route. No session is required here; this endpoint
// is what creates sessions.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth", h.handleAuthenticate)
}

type authenticateRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	Role          string `json:"role,omitempty"`
}

type authenticateResponse struct {
	User  *models.Identity `json:"user"`
	Token string           `json:"token"`
}

func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateAuthenticateRequest(req); err != nil {
		shared.WriteError(w, err)
		return
	}

	result, err := h.auth.Authenticate(ctx, req.WalletAddress, req.Signature, req.Role)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "authentication failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err.Error(),
			)
		}
		var denied *ratelimit.LimitExceededError
		if errors.As(err, &denied) {
			w.Header().Set("Retry-After", strconv.Itoa(denied.RetryAfterSeconds))
		}
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, authenticateResponse{
		User:  result.Identity,
		Token: result.AccessToken,
	})
}

func validateAuthenticateRequest(req authenticateRequest) error {
	if !govalidator.StringLength(req.WalletAddress, "32", "44") {
		return dErrors.New(dErrors.CodeInvalidInput, "walletAddress must be 32-44 characters")
	}
	if !govalidator.StringLength(req.Signature, "1", "2048") {
		return dErrors.New(dErrors.CodeInvalidInput, "signature is required")
	}
	if len(req.Role) > 16 {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return nil
}
