package models

import (
	"time"

	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
)

// Status is the stored lifecycle state of a credential.
//
// EXPIRED is special: it is derived at read time from expiresAt and never
// eagerly written back. A row can sit at ACTIVE with an elapsed expiry; every
// reader must go through IsExpiredAt / View rather than trusting Status
// alone. REVOKED is terminal.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

// Claims is the arbitrary key-value payload of a credential.
type Claims map[string]any

// Proof is the opaque signature block attached to a credential. The engine
// never interprets it; real verification is a delegated capability.
type Proof map[string]any

// Credential is a signed claim set issued by one identity about another.
// HolderID and IssuerID are nullable: imported credentials have an external
// issuer, and the subject of an issued credential may not hold an internal
// identity yet.
type Credential struct {
	ID         id.CredentialID `json:"id"`
	Type       string          `json:"type"`
	IssuerID   *id.IdentityID  `json:"issuerId,omitempty"`
	HolderID   *id.IdentityID  `json:"holderId,omitempty"`
	IssuerDID  string          `json:"issuerDid"`
	SubjectDID string          `json:"subjectDid"`
	Claims     Claims          `json:"claims"`
	Status     Status          `json:"status"`
	IssuedAt   time.Time       `json:"issuedAt"`
	ExpiresAt  *time.Time      `json:"expiresAt,omitempty"`
	RevokedAt  *time.Time      `json:"revokedAt,omitempty"`
	Proof      Proof           `json:"proof,omitempty"`
}

// IsExpiredAt reports the read-time expiry derivation: still ACTIVE in
// storage but past its expiry.
func (c *Credential) IsExpiredAt(now time.Time) bool {
	return c.Status == StatusActive && c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// EffectiveStatus resolves the stored status against the clock.
func (c *Credential) EffectiveStatus(now time.Time) Status {
	if c.IsExpiredAt(now) {
		return StatusExpired
	}
	return c.Status
}

// CanRevoke checks the revocation transition. Once REVOKED, status never
// changes; a second revoke is a conflict, not a silent no-op.
func (c *Credential) CanRevoke() error {
	if c.Status == StatusRevoked {
		return dErrors.New(dErrors.CodeInvariantViolation, "credential is already revoked")
	}
	return nil
}

// ApplyRevocation transitions the credential to REVOKED. Call CanRevoke
// first; use with the store's Execute callback for atomicity.
func (c *Credential) ApplyRevocation(now time.Time) {
	c.Status = StatusRevoked
	c.RevokedAt = &now
}

// View is the read shape handed to dashboards: the credential plus the
// derived isExpired flag, computed without mutating stored state.
type View struct {
	Credential
	IsExpired bool `json:"isExpired"`
}

// NewView derives the read-time view of a credential.
func NewView(c *Credential, now time.Time) View {
	return View{Credential: *c, IsExpired: c.IsExpiredAt(now)}
}

// NewCredential constructs an ACTIVE credential issued now.
func NewCredential(credentialID id.CredentialID, credType string, issuerID *id.IdentityID,
	holderID *id.IdentityID, issuerDID, subjectDID string, claims Claims,
	expiresAt *time.Time, proof Proof, now time.Time) (*Credential, error) {
	if credType == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential type is required")
	}
	if subjectDID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject DID is required")
	}
	if claims == nil {
		claims = Claims{}
	}
	return &Credential{
		ID:         credentialID,
		Type:       credType,
		IssuerID:   issuerID,
		HolderID:   holderID,
		IssuerDID:  issuerDID,
		SubjectDID: subjectDID,
		Claims:     claims,
		Status:     StatusActive,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
		Proof:      proof,
	}, nil
}
