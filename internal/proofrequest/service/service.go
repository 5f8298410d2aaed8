package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	credentialModels "vericred/internal/credential/models"
	identityModels "vericred/internal/identity/models"
	"vericred/internal/platform/metrics"
	"vericred/internal/proofrequest/models"
	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/platform/audit"
	"vericred/pkg/platform/sentinel"
	"vericred/pkg/requestcontext"
)

// Store persists proof requests and responses. Respond and Decide run
// through StoreTx: the one-response-per-holder check and the insert are
// atomic, as are the pending check and the decision update. UpdateResponse
// only touches rows still pending and reports ErrConflict otherwise.
type Store interface {
	CreateRequest(ctx context.Context, request *models.ProofRequest) error
	FindRequestByID(ctx context.Context, requestID id.ProofRequestID) (*models.ProofRequest, error)
	ListRequestsByVerifier(ctx context.Context, verifierID id.IdentityID) ([]*models.ProofRequest, error)
	ListOpenRequests(ctx context.Context, now time.Time) ([]*models.ProofRequest, error)
	MarkRequestCompleted(ctx context.Context, requestID id.ProofRequestID) error
	CreateResponse(ctx context.Context, response *models.ProofResponse) error
	FindResponseByID(ctx context.Context, responseID id.ProofResponseID) (*models.ProofResponse, error)
	UpdateResponse(ctx context.Context, response *models.ProofResponse) error
	ListResponsesByRequest(ctx context.Context, requestID id.ProofRequestID) ([]*models.ProofResponse, error)
	ListRequestIDsRespondedBy(ctx context.Context, holderID id.IdentityID) ([]id.ProofRequestID, error)
}

// TemplateCatalog lists the known credential type names.
type TemplateCatalog interface {
	KnownTypeNames(ctx context.Context) ([]string, error)
}

// CredentialReader loads credentials for presentation checks.
type CredentialReader interface {
	GetByID(ctx context.Context, credentialID id.CredentialID) (*credentialModels.Credential, error)
}

// Service owns the proof request and response lifecycle.
type Service struct {
	store       Store
	tx          StoreTx
	templates   TemplateCatalog
	credentials CredentialReader
	auditor     *audit.Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func New(store Store, tx StoreTx, templates TemplateCatalog, credentials CredentialReader,
	auditor *audit.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		tx:          tx,
		templates:   templates,
		credentials: credentials,
		auditor:     auditor,
		metrics:     m,
		logger:      logger,
	}
}

// CreateInput carries the fields accepted from a verifier. A nil ExpiresAt
// opens a request that never expires.
type CreateInput struct {
	RequestedTypes []string
	TargetHolders  []string
	Title          string
	Description    string
	ExpiresAt      *time.Time
}

// Create opens a proof request. Requested types are intersected with the
// template catalogue: unknown types are dropped silently so a stale client
// does not fail the whole request. The request is created even when no type
// survives the intersection.
func (s *Service) Create(ctx context.Context, verifier *identityModels.Identity, in CreateInput) (*models.ProofRequest, error) {
	if verifier.Role != identityModels.RoleVerifier {
		return nil, dErrors.New(dErrors.CodeForbidden, "only verifiers may create proof requests")
	}

	known, err := s.templates.KnownTypeNames(ctx)
	if err != nil {
		return nil, err
	}
	requestedTypes := intersect(in.RequestedTypes, known)
	if dropped := len(in.RequestedTypes) - len(requestedTypes); dropped > 0 {
		s.logger.DebugContext(ctx, "dropped unknown requested types",
			"requested", len(in.RequestedTypes), "kept", len(requestedTypes))
	}

	request, err := models.NewProofRequest(id.NewProofRequestID(), verifier.ID,
		requestedTypes, in.TargetHolders, in.Title, in.Description, in.ExpiresAt, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRequest(ctx, request); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store proof request")
	}

	s.metrics.ProofRequests.Inc()
	s.logger.InfoContext(ctx, "proof request created",
		"proof_request_id", request.ID.String(),
		"requested_types", strings.Join(requestedTypes, ","),
		"broadcast", request.IsBroadcast(),
	)
	return s.withEffectiveStatus(ctx, request), nil
}

// ListForVerifier returns every request the verifier has created, with
// read-time status derivation applied.
func (s *Service) ListForVerifier(ctx context.Context, verifierID id.IdentityID) ([]*models.ProofRequest, error) {
	requests, err := s.store.ListRequestsByVerifier(ctx, verifierID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proof requests")
	}
	out := make([]*models.ProofRequest, 0, len(requests))
	for _, request := range requests {
		out = append(out, s.withEffectiveStatus(ctx, request))
	}
	return out, nil
}

// AvailableFor returns the open requests the holder may still answer:
// broadcasts plus requests that target the holder's DID, minus anything the
// holder has already responded to.
func (s *Service) AvailableFor(ctx context.Context, holder *identityModels.Identity) ([]*models.ProofRequest, error) {
	now := requestcontext.Now(ctx)
	open, err := s.store.ListOpenRequests(ctx, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list open proof requests")
	}
	respondedIDs, err := s.store.ListRequestIDsRespondedBy(ctx, holder.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list prior responses")
	}
	responded := make(map[id.ProofRequestID]struct{}, len(respondedIDs))
	for _, requestID := range respondedIDs {
		responded[requestID] = struct{}{}
	}

	var out []*models.ProofRequest
	for _, request := range open {
		if !request.Targets(holder.DID) {
			continue
		}
		if _, already := responded[request.ID]; already {
			continue
		}
		out = append(out, request)
	}
	return out, nil
}

// RespondInput carries a holder's answer. Decline submits an empty response
// that lands directly at REJECTED.
type RespondInput struct {
	ProofRequestID id.ProofRequestID
	CredentialIDs  []id.CredentialID
	ProofData      models.ProofData
	Decline        bool
	Message        string
}

// Respond submits the holder's response. The presented credentials must
// exist, belong to the holder, and match a requested type. The uniqueness
// check and the insert run in one transaction.
func (s *Service) Respond(ctx context.Context, holder *identityModels.Identity, in RespondInput) (*models.ProofResponse, error) {
	now := requestcontext.Now(ctx)
	presented, err := s.loadPresented(ctx, holder, in.CredentialIDs)
	if err != nil {
		return nil, err
	}

	response, err := models.NewProofResponse(id.NewProofResponseID(), in.ProofRequestID,
		holder.ID, in.CredentialIDs, in.ProofData, in.Decline, in.Message, now)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(store Store) error {
		request, err := store.FindRequestByID(ctx, in.ProofRequestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "proof request not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proof request")
		}
		if !request.IsOpen(now) {
			return dErrors.New(dErrors.CodeConflict, "proof request is no longer open")
		}
		if !request.Targets(holder.DID) {
			return dErrors.New(dErrors.CodeForbidden, "this proof request does not target you")
		}
		for _, credential := range presented {
			if !typeRequested(request.RequestedTypes, credential.Type) {
				return dErrors.New(dErrors.CodeInvalidInput, "presented credential type was not requested")
			}
		}

		existing, err := store.ListResponsesByRequest(ctx, in.ProofRequestID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check prior responses")
		}
		for _, prior := range existing {
			if prior.HolderID == holder.ID {
				return dErrors.New(dErrors.CodeConflict, "you have already responded to this proof request")
			}
		}

		if err := store.CreateResponse(ctx, response); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "you have already responded to this proof request")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store proof response")
		}

		// Targeted requests complete once every listed holder has answered.
		// Broadcasts stay open until they expire.
		if !request.IsBroadcast() && len(existing)+1 >= len(request.TargetHolders) {
			if err := store.MarkRequestCompleted(ctx, request.ID); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete proof request")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ProofResponses.WithLabelValues(strings.ToLower(string(response.Status))).Inc()
	s.emitAudit(ctx, audit.KindProofResponded, holder.ID.String(), response)
	s.logger.InfoContext(ctx, "proof response submitted",
		"proof_request_id", in.ProofRequestID.String(),
		"proof_response_id", response.ID.String(),
		"status", response.Status,
		"credentials", len(in.CredentialIDs),
	)
	return response, nil
}

// Decide records the verifier's decision on a pending response. Only the
// verifier that created the request may decide, and only once: the load and
// the guarded update run in one transaction so concurrent decisions cannot
// both land.
func (s *Service) Decide(ctx context.Context, verifierID id.IdentityID, responseID id.ProofResponseID, rawStatus string) (*models.ProofResponse, error) {
	status, err := models.ParseDecision(rawStatus)
	if err != nil {
		return nil, err
	}

	var response *models.ProofResponse
	err = s.tx.RunInTx(ctx, func(store Store) error {
		loaded, err := store.FindResponseByID(ctx, responseID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "proof response not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proof response")
		}
		request, err := store.FindRequestByID(ctx, loaded.ProofRequestID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proof request")
		}
		if request.VerifierID != verifierID {
			return dErrors.New(dErrors.CodeForbidden, "only the requesting verifier may decide this response")
		}
		if err := loaded.Decide(status, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := store.UpdateResponse(ctx, loaded); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "response has already been decided")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update proof response")
		}
		response = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ProofResponses.WithLabelValues(strings.ToLower(string(status))).Inc()
	s.emitAudit(ctx, audit.KindProofDecided, verifierID.String(), response)
	s.logger.InfoContext(ctx, "proof response decided",
		"proof_response_id", response.ID.String(),
		"status", response.Status,
	)
	return response, nil
}

// ListResponses returns the responses to a request. Owner-gated: only the
// verifier that created the request sees them.
func (s *Service) ListResponses(ctx context.Context, verifierID id.IdentityID, requestID id.ProofRequestID) ([]*models.ProofResponse, error) {
	request, err := s.store.FindRequestByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "proof request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proof request")
	}
	if request.VerifierID != verifierID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the requesting verifier may list responses")
	}
	responses, err := s.store.ListResponsesByRequest(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proof responses")
	}
	return responses, nil
}

// loadPresented verifies existence and ownership of the presented
// credentials. Ownership means linked by holder id or addressed to the
// holder's DID.
func (s *Service) loadPresented(ctx context.Context, holder *identityModels.Identity, credentialIDs []id.CredentialID) ([]*credentialModels.Credential, error) {
	out := make([]*credentialModels.Credential, 0, len(credentialIDs))
	for _, credentialID := range credentialIDs {
		credential, err := s.credentials.GetByID(ctx, credentialID)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return nil, dErrors.New(dErrors.CodeInvalidInput, "presented credential does not exist")
			}
			return nil, err
		}
		owned := (credential.HolderID != nil && *credential.HolderID == holder.ID) ||
			credential.SubjectDID == holder.DID
		if !owned {
			return nil, dErrors.New(dErrors.CodeForbidden, "presented credential does not belong to you")
		}
		out = append(out, credential)
	}
	return out, nil
}

func (s *Service) withEffectiveStatus(ctx context.Context, request *models.ProofRequest) *models.ProofRequest {
	view := *request
	view.Status = request.EffectiveStatus(requestcontext.Now(ctx))
	return &view
}

func (s *Service) emitAudit(ctx context.Context, kind audit.Kind, actor string, response *models.ProofResponse) {
	err := s.auditor.Emit(ctx, audit.Event{
		Kind:      kind,
		Actor:     actor,
		Subject:   response.ID.String(),
		Detail:    map[string]string{"proof_request_id": response.ProofRequestID.String(), "status": string(response.Status)},
		RequestID: requestcontext.RequestID(ctx),
		Timestamp: requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed", "kind", kind, "error", err)
	}
}

func intersect(requested, known []string) []string {
	knownSet := make(map[string]struct{}, len(known))
	for _, name := range known {
		knownSet[name] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		if _, ok := knownSet[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func typeRequested(requestedTypes []string, credType string) bool {
	for _, name := range requestedTypes {
		if name == credType {
			return true
		}
	}
	return false
}
