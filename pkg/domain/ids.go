// Package domain defines typed identifiers shared across features.
//
// Each entity gets its own UUID-backed type so the compiler rejects
// cross-entity assignment (passing a CredentialID where a ProofRequestID is
// expected fails to build). Parse functions enforce the trust-boundary
// invariant: IDs must be valid, non-empty, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "vericred/pkg/domain-errors"
)

type (
	// IdentityID identifies a wallet-anchored identity.
	IdentityID uuid.UUID
	// CredentialID identifies an issued or imported credential.
	CredentialID uuid.UUID
	// TemplateID identifies a credential template.
	TemplateID uuid.UUID
	// ProofRequestID identifies a verifier's proof request.
	ProofRequestID uuid.UUID
	// ProofResponseID identifies a holder's response to a proof request.
	ProofResponseID uuid.UUID
)

func (id IdentityID) String() string      { return uuid.UUID(id).String() }
func (id CredentialID) String() string    { return uuid.UUID(id).String() }
func (id TemplateID) String() string      { return uuid.UUID(id).String() }
func (id ProofRequestID) String() string  { return uuid.UUID(id).String() }
func (id ProofResponseID) String() string { return uuid.UUID(id).String() }

func (id IdentityID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }
func (id CredentialID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TemplateID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ProofRequestID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ProofResponseID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// NewIdentityID generates a fresh identity identifier.
func NewIdentityID() IdentityID { return IdentityID(uuid.New()) }

// NewCredentialID generates a fresh credential identifier.
func NewCredentialID() CredentialID { return CredentialID(uuid.New()) }

// NewTemplateID generates a fresh template identifier.
func NewTemplateID() TemplateID { return TemplateID(uuid.New()) }

// NewProofRequestID generates a fresh proof request identifier.
func NewProofRequestID() ProofRequestID { return ProofRequestID(uuid.New()) }

// NewProofResponseID generates a fresh proof response identifier.
func NewProofResponseID() ProofResponseID { return ProofResponseID(uuid.New()) }

func parseUUID(raw, entity string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, entity+" id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+entity+" id")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, entity+" id cannot be the nil UUID")
	}
	return parsed, nil
}

// ParseIdentityID validates and converts a raw string into an IdentityID.
func ParseIdentityID(raw string) (IdentityID, error) {
	parsed, err := parseUUID(raw, "identity")
	if err != nil {
		return IdentityID{}, err
	}
	return IdentityID(parsed), nil
}

// ParseCredentialID validates and converts a raw string into a CredentialID.
func ParseCredentialID(raw string) (CredentialID, error) {
	parsed, err := parseUUID(raw, "credential")
	if err != nil {
		return CredentialID{}, err
	}
	return CredentialID(parsed), nil
}

// ParseTemplateID validates and converts a raw string into a TemplateID.
func ParseTemplateID(raw string) (TemplateID, error) {
	parsed, err := parseUUID(raw, "template")
	if err != nil {
		return TemplateID{}, err
	}
	return TemplateID(parsed), nil
}

// ParseProofRequestID validates and converts a raw string into a ProofRequestID.
func ParseProofRequestID(raw string) (ProofRequestID, error) {
	parsed, err := parseUUID(raw, "proof request")
	if err != nil {
		return ProofRequestID{}, err
	}
	return ProofRequestID(parsed), nil
}

// ParseProofResponseID validates and converts a raw string into a ProofResponseID.
func ParseProofResponseID(raw string) (ProofResponseID, error) {
	parsed, err := parseUUID(raw, "proof response")
	if err != nil {
		return ProofResponseID{}, err
	}
	return ProofResponseID(parsed), nil
}
