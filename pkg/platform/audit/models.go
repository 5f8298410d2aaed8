// Package audit provides the append-only audit trail for security-relevant
// events: authentication attempts, credential issuance and revocation, and
// proof response decisions.
//
// Events carry no secret material. Wallet addresses are truncated and
// signatures reduced to a short digest before an event is constructed.
package audit

import (
	"time"
)

// Kind classifies an audit event.
type Kind string

const (
	KindAuthAttempt       Kind = "auth.attempt"
	KindAuthSuccess       Kind = "auth.success"
	KindAuthDenied        Kind = "auth.denied"
	KindCredentialIssued  Kind = "credential.issued"
	KindCredentialRevoked Kind = "credential.revoked"
	KindProofResponded    Kind = "proof.responded"
	KindProofDecided      Kind = "proof.decided"
)

// Event is a single audit record.
type Event struct {
	Kind      Kind              `json:"kind"`
	Actor     string            `json:"actor,omitempty"` // identity id or truncated wallet address
	Subject   string            `json:"subject,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
