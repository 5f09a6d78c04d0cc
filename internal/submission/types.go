package submission

import (
	"time"

	"github.com/ent0n29/safemind/internal/draft"
)

type State string

const (
	StateEditing    State = "editing"
	StateConfirming State = "confirming"
	StateSigning    State = "signing"
	StateAnchoring  State = "anchoring"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// FailureKind records why a submission ended in StateFailed.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureSignatureRejected FailureKind = "signature_rejected"
	FailureAnchoring         FailureKind = "anchoring_failed"
)

// Record is the immutable snapshot that was signed, plus what signing and
// anchoring attached to it.
type Record struct {
	ID             string      `json:"id"`
	Template       string      `json:"template"`
	Draft          draft.Draft `json:"draft"`
	SignerIdentity string      `json:"signer_identity"`
	SignedPayload  string      `json:"signed_payload"`
	ProofToken     string      `json:"proof_token"`
	Signature      string      `json:"signature,omitempty"`
	ProofHash      string      `json:"proof_hash,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	SignedAt       *time.Time  `json:"signed_at,omitempty"`
	AnchoredAt     *time.Time  `json:"anchored_at,omitempty"`
}

func (r Record) Clone() Record {
	out := r
	out.Draft = r.Draft.Clone()
	if r.SignedAt != nil {
		t := *r.SignedAt
		out.SignedAt = &t
	}
	if r.AnchoredAt != nil {
		t := *r.AnchoredAt
		out.AnchoredAt = &t
	}
	return out
}

// Snapshot is a point-in-time copy of a Machine.
type Snapshot struct {
	ID             string      `json:"id"`
	SessionID      string      `json:"session_id"`
	State          State       `json:"state"`
	Draft          draft.Draft `json:"draft"`
	Record         *Record     `json:"record,omitempty"`
	Failure        FailureKind `json:"failure,omitempty"`
	FailureDetail  string      `json:"failure_detail,omitempty"`
	History        []State     `json:"history"`
	AnchorAttempts int         `json:"anchor_attempts"`
	NextRetryAt    *time.Time  `json:"next_retry_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (s Snapshot) Terminal() bool { return s.State.Terminal() }
