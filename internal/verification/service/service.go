package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	credentialModels "vericred/internal/credential/models"
	"vericred/internal/platform/metrics"
	dErrors "vericred/pkg/domain-errors"
	"vericred/pkg/requestcontext"
)

const checkCount = 5

// Checks is the fixed verification checklist. Every response carries all
// five flags, whatever the outcome.
type Checks struct {
	SignatureValid   bool `json:"signatureValid"`
	IssuerTrusted    bool `json:"issuerTrusted"`
	NotExpired       bool `json:"notExpired"`
	NotRevoked       bool `json:"notRevoked"`
	ChainAnchorValid bool `json:"chainAnchorValid"`
}

// Passed counts the checks that succeeded.
func (c Checks) Passed() int {
	count := 0
	for _, ok := range []bool{c.SignatureValid, c.IssuerTrusted, c.NotExpired, c.NotRevoked, c.ChainAnchorValid} {
		if ok {
			count++
		}
	}
	return count
}

// ScoreOf maps passed checks to a 0-100 trust score.
func ScoreOf(passed int) int {
	return int(math.Round(100 * float64(passed) / checkCount))
}

// CredentialSummary is the canonical read shape of the verified credential.
// ExpiresAt is always populated for display: credentials without an expiry
// show one year from issuance.
type CredentialSummary struct {
	ID         string                  `json:"id,omitempty"`
	Type       string                  `json:"type"`
	IssuerDID  string                  `json:"issuerDid"`
	SubjectDID string                  `json:"subjectDid"`
	Status     credentialModels.Status `json:"status"`
	Claims     credentialModels.Claims `json:"claims"`
	IssuedAt   time.Time               `json:"issuedAt"`
	ExpiresAt  time.Time               `json:"expiresAt"`
}

// Result is the verification outcome. Verified requires all five checks;
// Score degrades proportionally with failed checks.
type Result struct {
	Verified            bool               `json:"verified"`
	Score               int                `json:"score"`
	Checks              Checks             `json:"checks"`
	Credential          *CredentialSummary `json:"credential,omitempty"`
	Reason              string             `json:"reason,omitempty"`
	CredentialsOnRecord *int               `json:"credentialsOnRecord,omitempty"`
}

// ProofVerifier checks the cryptographic proof block. Real signature
// verification is a delegated capability.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, proof credentialModels.Proof, issuerDID string) (bool, error)
}

// TrustRegistry decides whether an issuer DID is trusted.
type TrustRegistry interface {
	IsTrusted(ctx context.Context, issuerDID string) (bool, error)
}

// AnchorVerifier checks the on-chain anchor of a credential.
type AnchorVerifier interface {
	AnchorValid(ctx context.Context, credentialID string) (bool, error)
}

// PassthroughProofs accepts every proof block. Placeholder until wallet
// signature verification lands.
type PassthroughProofs struct{}

func (PassthroughProofs) VerifyProof(context.Context, credentialModels.Proof, string) (bool, error) {
	return true, nil
}

// OpenTrustRegistry trusts every issuer. Placeholder until a registry of
// trusted issuer DIDs exists.
type OpenTrustRegistry struct{}

func (OpenTrustRegistry) IsTrusted(context.Context, string) (bool, error) { return true, nil }

// AssumeAnchored treats every credential as anchored. Placeholder until the
// ledger anchor lookup exists.
type AssumeAnchored struct{}

func (AssumeAnchored) AnchorValid(context.Context, string) (bool, error) { return true, nil }

// CredentialLookup resolves stored credentials about a subject DID, most
// recent first, plus the total on record.
type CredentialLookup interface {
	LookupBySubjectDID(ctx context.Context, subjectDID string) ([]*credentialModels.Credential, int, error)
}

// Service runs the five-check verification over a stored or presented
// credential.
type Service struct {
	credentials CredentialLookup
	proofs      ProofVerifier
	registry    TrustRegistry
	anchors     AnchorVerifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

func New(credentials CredentialLookup, proofs ProofVerifier, registry TrustRegistry,
	anchors AnchorVerifier, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		credentials: credentials,
		proofs:      proofs,
		registry:    registry,
		anchors:     anchors,
		metrics:     m,
		logger:      logger,
		tracer:      otel.Tracer("vericred/verification"),
	}
}

// Input selects the verification path: a presented credential document, or a
// DID to resolve against stored credentials. Exactly one must be set.
type Input struct {
	Document   json.RawMessage
	SubjectDID string
	Type       string
}

// Verify runs the checklist and returns the scored result. Verification
// never errors on a failing credential; errors are reserved for bad input
// and infrastructure faults.
func (s *Service) Verify(ctx context.Context, in Input) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	var result *Result
	var err error
	switch {
	case len(in.Document) > 0:
		span.SetAttributes(attribute.String("verification.path", "document"))
		result, err = s.verifyDocument(ctx, in.Document)
	case in.SubjectDID != "":
		span.SetAttributes(attribute.String("verification.path", "did"))
		result, err = s.verifyByDID(ctx, in.SubjectDID, in.Type)
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "provide credentialJson or holderDid")
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("verification.verified", result.Verified),
		attribute.Int("verification.score", result.Score),
	)
	if result.Verified {
		s.metrics.Verifications.WithLabelValues("verified").Inc()
	} else {
		s.metrics.Verifications.WithLabelValues("failed").Inc()
	}
	s.logger.InfoContext(ctx, "verification completed",
		"verified", result.Verified,
		"score", result.Score,
		"reason", result.Reason,
	)
	return result, nil
}

// verifyByDID resolves the most recent non-revoked credential about the DID
// and runs the checklist against it. An expired credential is still
// selectable: it fails the notExpired check rather than vanishing from the
// record. A DID with no credentials at all is not found.
func (s *Service) verifyByDID(ctx context.Context, subjectDID, typeFilter string) (*Result, error) {
	now := requestcontext.Now(ctx)
	credentials, total, err := s.credentials.LookupBySubjectDID(ctx, subjectDID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no credentials on record for subject")
	}

	var selected *credentialModels.Credential
	for _, credential := range credentials {
		if typeFilter != "" && credential.Type != typeFilter {
			continue
		}
		if credential.Status == credentialModels.StatusRevoked {
			continue
		}
		selected = credential
		break
	}
	if selected == nil {
		return &Result{
			Verified:            false,
			Score:               0,
			Reason:              "no presentable credential found for subject",
			CredentialsOnRecord: &total,
		}, nil
	}

	checks, err := s.runChecks(ctx, selected.Proof, selected.IssuerDID, selected.ID.String(),
		!selected.IsExpiredAt(now), selected.Status != credentialModels.StatusRevoked)
	if err != nil {
		return nil, err
	}
	summary := summarize(selected, now)
	return buildResult(checks, &summary), nil
}

// presentedDocument is the wire shape accepted on the document path. Only
// structure is validated; the proof block passes through to the capability.
type presentedDocument struct {
	Type       string                  `json:"type"`
	IssuerDID  string                  `json:"issuerDid"`
	SubjectDID string                  `json:"subjectDid"`
	Status     credentialModels.Status `json:"status,omitempty"`
	Claims     credentialModels.Claims `json:"claims"`
	IssuedAt   *time.Time              `json:"issuedAt,omitempty"`
	ExpiresAt  *time.Time              `json:"expiresAt,omitempty"`
	Proof      credentialModels.Proof  `json:"proof,omitempty"`
}

// verifyDocument checks a presented credential document. Expiry is the only
// locally computable fact; the rest goes through the capabilities.
func (s *Service) verifyDocument(ctx context.Context, raw json.RawMessage) (*Result, error) {
	var doc presentedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential document is not valid JSON")
	}
	if doc.Type == "" || doc.IssuerDID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential document requires type and issuerDid")
	}

	now := requestcontext.Now(ctx)
	notExpired := doc.ExpiresAt == nil || doc.ExpiresAt.After(now)
	notRevoked := doc.Status != credentialModels.StatusRevoked

	checks, err := s.runChecks(ctx, doc.Proof, doc.IssuerDID, "", notExpired, notRevoked)
	if err != nil {
		return nil, err
	}

	issuedAt := now
	if doc.IssuedAt != nil {
		issuedAt = *doc.IssuedAt
	}
	status := doc.Status
	if status == "" {
		status = credentialModels.StatusActive
	}
	summary := CredentialSummary{
		Type:       doc.Type,
		IssuerDID:  doc.IssuerDID,
		SubjectDID: doc.SubjectDID,
		Status:     status,
		Claims:     doc.Claims,
		IssuedAt:   issuedAt,
		ExpiresAt:  displayExpiry(doc.ExpiresAt, issuedAt),
	}
	return buildResult(checks, &summary), nil
}

func (s *Service) runChecks(ctx context.Context, proof credentialModels.Proof, issuerDID, credentialID string,
	notExpired, notRevoked bool) (Checks, error) {
	signatureValid, err := s.proofs.VerifyProof(ctx, proof, issuerDID)
	if err != nil {
		return Checks{}, dErrors.Wrap(err, dErrors.CodeInternal, "proof verification failed")
	}
	issuerTrusted, err := s.registry.IsTrusted(ctx, issuerDID)
	if err != nil {
		return Checks{}, dErrors.Wrap(err, dErrors.CodeInternal, "trust registry lookup failed")
	}
	anchorValid, err := s.anchors.AnchorValid(ctx, credentialID)
	if err != nil {
		return Checks{}, dErrors.Wrap(err, dErrors.CodeInternal, "anchor verification failed")
	}
	return Checks{
		SignatureValid:   signatureValid,
		IssuerTrusted:    issuerTrusted,
		NotExpired:       notExpired,
		NotRevoked:       notRevoked,
		ChainAnchorValid: anchorValid,
	}, nil
}

func buildResult(checks Checks, summary *CredentialSummary) *Result {
	passed := checks.Passed()
	result := &Result{
		Verified:   passed == checkCount,
		Score:      ScoreOf(passed),
		Checks:     checks,
		Credential: summary,
	}
	if !result.Verified {
		result.Reason = "one or more verification checks failed"
	}
	return result
}

func summarize(credential *credentialModels.Credential, now time.Time) CredentialSummary {
	return CredentialSummary{
		ID:         credential.ID.String(),
		Type:       credential.Type,
		IssuerDID:  credential.IssuerDID,
		SubjectDID: credential.SubjectDID,
		Status:     credential.EffectiveStatus(now),
		Claims:     credential.Claims,
		IssuedAt:   credential.IssuedAt,
		ExpiresAt:  displayExpiry(credential.ExpiresAt, credential.IssuedAt),
	}
}

// displayExpiry fills the canonical view's expiry: one year from issuance
// when the credential has none of its own.
func displayExpiry(expiresAt *time.Time, issuedAt time.Time) time.Time {
	if expiresAt != nil {
		return *expiresAt
	}
	return issuedAt.AddDate(1, 0, 0)
}
