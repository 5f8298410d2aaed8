package models

import (
	"regexp"
	"time"

	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
)

// DIDPrefix is prepended to the wallet address to derive the DID. The
// derivation is deterministic: the same wallet always yields the same DID.
const DIDPrefix = "did:cred:"

// Role determines which lifecycle operations an identity may perform.
// Immutable after creation: the upsert path never rewrites it.
type Role string

const (
	RoleHolder   Role = "HOLDER"
	RoleIssuer   Role = "ISSUER"
	RoleVerifier Role = "VERIFIER"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleHolder, RoleIssuer, RoleVerifier:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole validates a requested role string. Empty defaults to HOLDER.
func ParseRole(raw string) (Role, error) {
	if raw == "" {
		return RoleHolder, nil
	}
	role := Role(raw)
	if !role.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role must be one of HOLDER, ISSUER, VERIFIER")
	}
	return role, nil
}

// walletAddressPattern accepts 32-44 characters of the base58 alphabet
// (no 0, O, I, l), the address grammar of the target ledger.
var walletAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidateWalletAddress enforces the ledger address grammar.
func ValidateWalletAddress(address string) error {
	if !walletAddressPattern.MatchString(address) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid wallet address format")
	}
	return nil
}

// DeriveDID derives the decentralized identifier for a wallet address.
func DeriveDID(walletAddress string) string {
	return DIDPrefix + walletAddress
}

// Identity is a wallet-anchored principal. No secret material is stored
// server-side; wallet custody is entirely client-side.
type Identity struct {
	ID            id.IdentityID `json:"id"`
	WalletAddress string        `json:"walletAddress"`
	DID           string        `json:"did"`
	Role          Role          `json:"role"`
	DisplayName   string        `json:"displayName,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// NewIdentity constructs an identity for a first-time wallet authentication.
func NewIdentity(identityID id.IdentityID, walletAddress string, role Role, now time.Time) (*Identity, error) {
	if err := ValidateWalletAddress(walletAddress); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid identity role")
	}
	return &Identity{
		ID:            identityID,
		WalletAddress: walletAddress,
		DID:           DeriveDID(walletAddress),
		Role:          role,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// TruncateWallet returns a non-sensitive rendering of a wallet address for
// logs and audit lines.
func TruncateWallet(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
