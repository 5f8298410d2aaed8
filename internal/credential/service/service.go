package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"vericred/internal/credential/models"
	identityModels "vericred/internal/identity/models"
	"vericred/internal/platform/metrics"
	templateModels "vericred/internal/template/models"
	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/platform/audit"
	"vericred/pkg/platform/sentinel"
	"vericred/pkg/requestcontext"
)

// Store persists credentials. Execute runs validate and mutate against the
// current row under a write lock so revocation cannot race a concurrent
// revoke of the same credential.
type Store interface {
	Create(ctx context.Context, credential *models.Credential) error
	FindByID(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error)
	Execute(ctx context.Context, credentialID id.CredentialID,
		validate func(*models.Credential) error, mutate func(*models.Credential)) (*models.Credential, error)
	ListForHolder(ctx context.Context, holderID id.IdentityID, holderDID string) ([]*models.Credential, error)
	ListIssuedBy(ctx context.Context, issuerID id.IdentityID) ([]*models.Credential, error)
	ListBySubjectDID(ctx context.Context, subjectDID string) ([]*models.Credential, error)
	CountBySubjectDID(ctx context.Context, subjectDID string) (int, error)
}

// IdentityDirectory resolves DIDs to internal identities.
type IdentityDirectory interface {
	FindByDID(ctx context.Context, did string) (*identityModels.Identity, error)
}

// TemplateCatalog resolves credential type names to templates.
type TemplateCatalog interface {
	FindByName(ctx context.Context, name string) (*templateModels.CredentialTemplate, error)
}

// Service owns the credential lifecycle: issuance, revocation, and the
// holder/issuer dashboards.
type Service struct {
	store     Store
	directory IdentityDirectory
	templates TemplateCatalog
	auditor   *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(store Store, directory IdentityDirectory, templates TemplateCatalog,
	auditor *audit.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		directory: directory,
		templates: templates,
		auditor:   auditor,
		metrics:   m,
		logger:    logger,
	}
}

// IssueInput carries the fields accepted from an issuer.
type IssueInput struct {
	Type       string
	SubjectDID string
	Claims     models.Claims
	ExpiresAt  *time.Time
}

// Issue creates an ACTIVE credential about the subject DID. Template
// conformance is advisory: missing required claims are logged, never
// rejected, because issuers may use types that have no template yet.
func (s *Service) Issue(ctx context.Context, issuer *identityModels.Identity, in IssueInput) (*models.Credential, error) {
	if issuer.Role != identityModels.RoleIssuer {
		return nil, dErrors.New(dErrors.CodeForbidden, "only issuers may issue credentials")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(requestcontext.Now(ctx)) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expiresAt must be in the future")
	}

	s.warnTemplateDrift(ctx, in.Type, in.Claims)

	now := requestcontext.Now(ctx)
	issuerID := issuer.ID
	var holderID *id.IdentityID
	holder, err := s.directory.FindByDID(ctx, in.SubjectDID)
	switch {
	case err == nil:
		holderID = &holder.ID
	case dErrors.HasCode(err, dErrors.CodeNotFound), errors.Is(err, sentinel.ErrNotFound):
		// Subject has not authenticated yet; the credential is still issuable
		// and linkable later through the DID.
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve subject")
	}

	credential, err := models.NewCredential(id.NewCredentialID(), in.Type, &issuerID, holderID,
		issuer.DID, in.SubjectDID, in.Claims, in.ExpiresAt, signingProof(issuer.DID, now), now)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, credential); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store credential")
	}

	s.metrics.CredentialsIssued.Inc()
	s.emitAudit(ctx, audit.KindCredentialIssued, issuer.DID, credential)
	s.logger.InfoContext(ctx, "credential issued",
		"credential_id", credential.ID.String(),
		"type", credential.Type,
		"issuer_did", issuer.DID,
		"subject_did", in.SubjectDID,
	)
	return credential, nil
}

// Revoke transitions an ACTIVE or expired credential to REVOKED. Only the
// issuing identity may revoke; revoking twice is a conflict.
func (s *Service) Revoke(ctx context.Context, issuerID id.IdentityID, credentialID id.CredentialID) (*models.Credential, error) {
	now := requestcontext.Now(ctx)
	credential, err := s.store.Execute(ctx, credentialID,
		func(c *models.Credential) error {
			if c.IssuerID == nil || *c.IssuerID != issuerID {
				return dErrors.New(dErrors.CodeForbidden, "only the issuing identity may revoke this credential")
			}
			return c.CanRevoke()
		},
		func(c *models.Credential) {
			c.ApplyRevocation(now)
		})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
		}
		var dErr *dErrors.DomainError
		if errors.As(err, &dErr) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke credential")
	}

	s.metrics.CredentialsRevoked.Inc()
	s.emitAudit(ctx, audit.KindCredentialRevoked, issuerID.String(), credential)
	s.logger.InfoContext(ctx, "credential revoked",
		"credential_id", credential.ID.String(),
		"type", credential.Type,
	)
	return credential, nil
}

// ListForHolder returns the read-time views of every credential held by the
// identity, either linked directly or addressed to its DID.
func (s *Service) ListForHolder(ctx context.Context, holder *identityModels.Identity) ([]models.View, error) {
	credentials, err := s.store.ListForHolder(ctx, holder.ID, holder.DID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credentials")
	}
	return s.views(ctx, credentials), nil
}

// ListIssuedBy returns the issuer dashboard: every credential the identity
// has issued, any status.
func (s *Service) ListIssuedBy(ctx context.Context, issuerID id.IdentityID) ([]models.View, error) {
	credentials, err := s.store.ListIssuedBy(ctx, issuerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list issued credentials")
	}
	return s.views(ctx, credentials), nil
}

// GetByID loads a single credential. Callers enforce their own access rules.
func (s *Service) GetByID(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	credential, err := s.store.FindByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	return credential, nil
}

// LookupBySubjectDID returns all credentials about a DID ordered most recent
// first, plus the total count. Any status is included; the caller filters.
func (s *Service) LookupBySubjectDID(ctx context.Context, subjectDID string) ([]*models.Credential, int, error) {
	credentials, err := s.store.ListBySubjectDID(ctx, subjectDID)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up credentials")
	}
	total, err := s.store.CountBySubjectDID(ctx, subjectDID)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count credentials")
	}
	return credentials, total, nil
}

// externalDocument is the wire shape accepted by Import. Only structure is
// checked; the proof block is stored opaquely.
type externalDocument struct {
	Type       string          `json:"type"`
	IssuerDID  string          `json:"issuerDid"`
	SubjectDID string          `json:"subjectDid,omitempty"`
	Claims     models.Claims   `json:"claims"`
	IssuedAt   *time.Time      `json:"issuedAt,omitempty"`
	ExpiresAt  *time.Time      `json:"expiresAt,omitempty"`
	Proof      json.RawMessage `json:"proof,omitempty"`
}

// Import stores an externally-authored credential document as held by the
// importing identity. The external issuer has no internal identity row, so
// IssuerID stays nil and the document's issuer DID is carried verbatim.
func (s *Service) Import(ctx context.Context, owner *identityModels.Identity, raw json.RawMessage) (*models.Credential, error) {
	var doc externalDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential document is not valid JSON")
	}
	if doc.Type == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential document is missing a type")
	}
	if doc.IssuerDID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential document is missing an issuer DID")
	}

	now := requestcontext.Now(ctx)
	issuedAt := now
	if doc.IssuedAt != nil {
		issuedAt = *doc.IssuedAt
	}
	subjectDID := doc.SubjectDID
	if subjectDID == "" {
		subjectDID = owner.DID
	}
	var proof models.Proof
	if len(doc.Proof) > 0 {
		if err := json.Unmarshal(doc.Proof, &proof); err != nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "credential proof block is not a JSON object")
		}
	}

	ownerID := owner.ID
	credential, err := models.NewCredential(id.NewCredentialID(), doc.Type, nil, &ownerID,
		doc.IssuerDID, subjectDID, doc.Claims, doc.ExpiresAt, proof, issuedAt)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, credential); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store imported credential")
	}

	s.logger.InfoContext(ctx, "credential imported",
		"credential_id", credential.ID.String(),
		"type", credential.Type,
		"issuer_did", doc.IssuerDID,
		"holder_id", owner.ID.String(),
	)
	return credential, nil
}

func (s *Service) views(ctx context.Context, credentials []*models.Credential) []models.View {
	now := requestcontext.Now(ctx)
	out := make([]models.View, 0, len(credentials))
	for _, credential := range credentials {
		out = append(out, models.NewView(credential, now))
	}
	return out
}

// warnTemplateDrift logs when claims do not satisfy the template registered
// for the credential type. Issuance proceeds either way.
func (s *Service) warnTemplateDrift(ctx context.Context, credType string, claims models.Claims) {
	template, err := s.templates.FindByName(ctx, credType)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.logger.WarnContext(ctx, "template lookup failed during issuance", "type", credType, "error", err)
		}
		return
	}
	if missing := template.MissingRequiredClaims(claims); len(missing) > 0 {
		s.logger.WarnContext(ctx, "issued claims missing template required fields",
			"type", credType,
			"missing", missing,
		)
	}
}

func (s *Service) emitAudit(ctx context.Context, kind audit.Kind, actor string, credential *models.Credential) {
	err := s.auditor.Emit(ctx, audit.Event{
		Kind:      kind,
		Actor:     actor,
		Subject:   credential.ID.String(),
		Detail:    map[string]string{"type": credential.Type, "subject_did": credential.SubjectDID},
		RequestID: requestcontext.RequestID(ctx),
		Timestamp: requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed", "kind", kind, "error", err)
	}
}

// signingProof builds the placeholder proof block attached at issuance. Real
// wallet signing happens client-side in a later milestone; the shape matches
// what the verifier expects to pass through opaquely.
func signingProof(issuerDID string, now time.Time) models.Proof {
	return models.Proof{
		"type":               "WalletSignature2024",
		"created":            now.UTC().Format(time.RFC3339),
		"verificationMethod": issuerDID + "#wallet",
	}
}
