package service

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"

	"golang.org/x/crypto/sha3"

	"vericred/internal/identity/models"
	"vericred/internal/platform/metrics"
	"vericred/internal/ratelimit"
	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/platform/audit"
	"vericred/pkg/platform/sentinel"
	"vericred/pkg/requestcontext"
)

// Store persists identities. Upsert is atomic: concurrent first-time
// authentications for one wallet must yield exactly one identity row.
type Store interface {
	Upsert(ctx context.Context, identity *models.Identity) (*models.Identity, bool, error)
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	FindByWalletAddress(ctx context.Context, walletAddress string) (*models.Identity, error)
	FindByDID(ctx context.Context, did string) (*models.Identity, error)
	ListByRole(ctx context.Context, role models.Role) ([]*models.Identity, error)
}

// SignatureVerifier proves control of a wallet. Real verification against the
// ledger is a delegated capability; the engine ships with AcceptAllSignatures
// until that collaborator exists.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, walletAddress, signature string) error
}

// AcceptAllSignatures is the placeholder verifier: any non-empty signature is
// accepted as proof of wallet control. Do not mistake this for verification.
type AcceptAllSignatures struct{}

func (AcceptAllSignatures) VerifySignature(_ context.Context, _, signature string) error {
	if signature == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "signature is required")
	}
	return nil
}

// Limiter gates authentication attempts per client identifier.
type Limiter interface {
	Allow(ctx context.Context, clientKey string) (ratelimit.Result, error)
}

// AuthResult is the outcome of a successful authentication.
type AuthResult struct {
	Identity    *models.Identity
	AccessToken string
}

// Service is the authenticator: it gates every other component. It validates
// the wallet address, delegates signature verification, upserts the identity
// idempotently, and issues the session token.
type Service struct {
	store    Store
	limiter  Limiter
	verifier SignatureVerifier
	tokens   *TokenService
	auditor  *audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(store Store, limiter Limiter, verifier SignatureVerifier, tokens *TokenService,
	auditor *audit.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		limiter:  limiter,
		verifier: verifier,
		tokens:   tokens,
		auditor:  auditor,
		metrics:  m,
		logger:   logger,
	}
}

// Authenticate validates a wallet address + signature pair and returns the
// (created or existing) identity with a session token.
//
// The upsert is idempotent: an existing identity only gets its updated_at
// touched; its role never changes, even when requestedRole differs.
func (s *Service) Authenticate(ctx context.Context, walletAddress, signature, requestedRole string) (*AuthResult, error) {
	clientKey := requestcontext.ClientIP(ctx)
	if clientKey == "" {
		clientKey = walletAddress
	}
	s.emitAudit(ctx, audit.KindAuthAttempt, walletAddress, signature)

	limit, err := s.limiter.Allow(ctx, clientKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "rate limit check failed")
	}
	if !limit.Allowed {
		s.metrics.RateLimitDenials.Inc()
		s.metrics.AuthAttempts.WithLabelValues("rate_limited").Inc()
		s.emitAudit(ctx, audit.KindAuthDenied, walletAddress, signature)
		denied := &ratelimit.LimitExceededError{RetryAfterSeconds: limit.RetryAfter(requestcontext.Now(ctx))}
		return nil, dErrors.Wrap(denied, dErrors.CodeRateLimited, "too many authentication attempts, retry later")
	}

	if err := models.ValidateWalletAddress(walletAddress); err != nil {
		s.metrics.AuthAttempts.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := s.verifier.VerifySignature(ctx, walletAddress, signature); err != nil {
		s.metrics.AuthAttempts.WithLabelValues("rejected").Inc()
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "wallet signature rejected")
	}

	role, err := models.ParseRole(requestedRole)
	if err != nil {
		s.metrics.AuthAttempts.WithLabelValues("invalid").Inc()
		return nil, err
	}

	now := requestcontext.Now(ctx)
	candidate, err := models.NewIdentity(id.NewIdentityID(), walletAddress, role, now)
	if err != nil {
		return nil, err
	}

	identity, created, err := s.store.Upsert(ctx, candidate)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a concurrent first-authentication race; the row now exists.
			identity, err = s.store.FindByWalletAddress(ctx, walletAddress)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
			}
		} else {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to upsert identity")
		}
	}
	if created {
		s.metrics.IdentitiesCreated.Inc()
	} else if identity.Role != role && requestedRole != "" {
		s.logger.DebugContext(ctx, "requested role ignored for existing identity",
			"wallet", models.TruncateWallet(walletAddress),
			"existing_role", identity.Role,
			"requested_role", role,
		)
	}

	token, err := s.tokens.GenerateAccessToken(identity.ID, identity.Role, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}

	s.metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.emitAudit(ctx, audit.KindAuthSuccess, walletAddress, signature)
	s.logger.InfoContext(ctx, "wallet authenticated",
		"wallet", models.TruncateWallet(walletAddress),
		"identity_id", identity.ID.String(),
		"role", identity.Role,
		"created", created,
	)

	return &AuthResult{Identity: identity, AccessToken: token}, nil
}

// GetByID loads an identity; used by read handlers after auth.
func (s *Service) GetByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	return identity, nil
}

// emitAudit writes a non-sensitive audit line: truncated wallet address, a
// short digest of the signature (never the signature itself), and the client
// user-agent family.
func (s *Service) emitAudit(ctx context.Context, kind audit.Kind, walletAddress, signature string) {
	err := s.auditor.Emit(ctx, audit.Event{
		Kind:      kind,
		Actor:     models.TruncateWallet(walletAddress),
		Detail:    map[string]string{"sig_digest": signatureDigest(signature), "client": requestcontext.UserAgent(ctx)},
		RequestID: requestcontext.RequestID(ctx),
		Timestamp: requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed", "kind", kind, "error", err)
	}
}

func signatureDigest(signature string) string {
	if signature == "" {
		return ""
	}
	sum := sha3.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:8])
}
