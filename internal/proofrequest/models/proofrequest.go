package models

import (
	"time"

	id "vericred/pkg/domain"
	dErrors "vericred/pkg/domain-errors"
)

// RequestStatus is the lifecycle state of a proof request. EXPIRED is
// derived at read time and takes precedence over the stored status: a
// request that filled all its targets but whose deadline passed reads as
// EXPIRED, not COMPLETED.
type RequestStatus string

const (
	RequestActive    RequestStatus = "ACTIVE"
	RequestCompleted RequestStatus = "COMPLETED"
	RequestExpired   RequestStatus = "EXPIRED"
)

// ProofRequest is a verifier's ask for credential presentations. An empty
// TargetHolders list is a broadcast: any holder may respond, and the request
// stays ACTIVE until it expires. A targeted request completes once every
// listed holder has responded. A nil ExpiresAt means the request never
// expires on its own.
type ProofRequest struct {
	ID             id.ProofRequestID `json:"id"`
	VerifierID     id.IdentityID     `json:"verifierId"`
	RequestedTypes []string          `json:"requestedTypes"`
	TargetHolders  []string          `json:"targetHolders,omitempty"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Status         RequestStatus     `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
}

// IsBroadcast reports whether any holder may respond.
func (r *ProofRequest) IsBroadcast() bool { return len(r.TargetHolders) == 0 }

// Targets reports whether the holder DID is addressed by this request.
func (r *ProofRequest) Targets(holderDID string) bool {
	if r.IsBroadcast() {
		return true
	}
	for _, target := range r.TargetHolders {
		if target == holderDID {
			return true
		}
	}
	return false
}

// EffectiveStatus resolves the stored status against the clock.
func (r *ProofRequest) EffectiveStatus(now time.Time) RequestStatus {
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return RequestExpired
	}
	return r.Status
}

// IsOpen reports whether the request still accepts responses.
func (r *ProofRequest) IsOpen(now time.Time) bool {
	return r.EffectiveStatus(now) == RequestActive
}

// NewProofRequest constructs an ACTIVE proof request. RequestedTypes may be
// empty: a request whose types were all dropped against the catalogue is
// still created, it just cannot be answered with credentials.
func NewProofRequest(requestID id.ProofRequestID, verifierID id.IdentityID,
	requestedTypes, targetHolders []string, title, description string,
	expiresAt *time.Time, now time.Time) (*ProofRequest, error) {
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expiresAt must be in the future")
	}
	return &ProofRequest{
		ID:             requestID,
		VerifierID:     verifierID,
		RequestedTypes: requestedTypes,
		TargetHolders:  targetHolders,
		Title:          title,
		Description:    description,
		Status:         RequestActive,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	}, nil
}

// ResponseStatus is the review state of a proof response. PENDING awaits the
// verifier's decision; a holder decline lands directly at REJECTED.
type ResponseStatus string

const (
	ResponsePending  ResponseStatus = "PENDING"
	ResponseAccepted ResponseStatus = "ACCEPTED"
	ResponseRejected ResponseStatus = "REJECTED"
)

func (s ResponseStatus) IsTerminal() bool {
	return s == ResponseAccepted || s == ResponseRejected
}

// ParseDecision validates a verifier's decision on a pending response.
func ParseDecision(raw string) (ResponseStatus, error) {
	status := ResponseStatus(raw)
	if !status.IsTerminal() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "status must be ACCEPTED or REJECTED")
	}
	return status, nil
}

// ProofData is the free-form presentation material attached to a response,
// such as selective-disclosure proofs. Passed through opaque.
type ProofData map[string]any

// ProofResponse is a holder's answer to a proof request: presented
// credentials, or a decline. One response per holder per request.
type ProofResponse struct {
	ID             id.ProofResponseID `json:"id"`
	ProofRequestID id.ProofRequestID  `json:"proofRequestId"`
	HolderID       id.IdentityID      `json:"holderId"`
	CredentialIDs  []id.CredentialID  `json:"presentedCredentials"`
	ProofData      ProofData          `json:"proofData,omitempty"`
	Status         ResponseStatus     `json:"status"`
	Message        string             `json:"message,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	ReviewedAt     *time.Time         `json:"reviewedAt,omitempty"`
}

// Decide transitions a pending response to the verifier's decision.
func (r *ProofResponse) Decide(status ResponseStatus, now time.Time) error {
	if r.Status != ResponsePending {
		return dErrors.New(dErrors.CodeConflict, "response has already been decided")
	}
	r.Status = status
	r.ReviewedAt = &now
	return nil
}

// NewProofResponse constructs a response. Declines carry no credentials and
// start at REJECTED; presentations start at PENDING.
func NewProofResponse(responseID id.ProofResponseID, requestID id.ProofRequestID,
	holderID id.IdentityID, credentialIDs []id.CredentialID, proofData ProofData,
	decline bool, message string, now time.Time) (*ProofResponse, error) {
	status := ResponsePending
	if decline {
		if len(credentialIDs) > 0 {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "a declined response cannot present credentials")
		}
		status = ResponseRejected
	} else if len(credentialIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one credential is required unless declining")
	}
	return &ProofResponse{
		ID:             responseID,
		ProofRequestID: requestID,
		HolderID:       holderID,
		CredentialIDs:  credentialIDs,
		ProofData:      proofData,
		Status:         status,
		Message:        message,
		CreatedAt:      now,
	}, nil
}
