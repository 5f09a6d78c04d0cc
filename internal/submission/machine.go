package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/safemind/internal/draft"
	"github.com/ent0n29/safemind/internal/reliability"
)

var (
	ErrValidationFailed   = errors.New("draft validation failed")
	ErrAlreadySubmitting  = errors.New("a submission is already in progress")
	ErrInvalidTransition  = errors.New("invalid submission transition")
	ErrDraftLocked        = errors.New("draft can only be edited while editing")
	ErrSignatureRejected  = errors.New("signature rejected")
	ErrSigningUnavailable = errors.New("signing service unavailable")
	ErrAnchoringFailed    = errors.New("anchoring failed")
	ErrRetryLimit         = errors.New("anchoring retry limit reached")
	ErrRetryTooSoon       = errors.New("anchoring retry is backing off")
)

// Anchorer writes a signed payload to the append-only ledger and returns its
// proof hash.
type Anchorer interface {
	Anchor(ctx context.Context, payload, signature string) (string, error)
}

// Options tune anchoring retries. Zero values pick defaults.
type Options struct {
	SessionID         string
	MaxAnchorAttempts int
	RetryBase         time.Duration
	RetryCap          time.Duration
	Now               func() time.Time
}

// Machine drives one report from editing to a terminal state. Every method is
// safe for concurrent use; Sign and Anchor release the lock while waiting on
// their external service and refuse to start twice.
type Machine struct {
	mu sync.Mutex

	id        string
	sessionID string
	state     State
	draft     draft.Draft
	record    *Record

	failure       FailureKind
	failureDetail string
	history       []State

	inFlight       bool
	anchorAttempts int
	maxAttempts    int
	retryBase      time.Duration
	retryCap       time.Duration
	nextRetryAt    time.Time

	now       func() time.Time
	updatedAt time.Time
}

func NewMachine(d draft.Draft, opts Options) *Machine {
	if opts.MaxAnchorAttempts <= 0 {
		opts.MaxAnchorAttempts = 5
	}
	if opts.RetryBase < 0 {
		opts.RetryBase = 0
	}
	if opts.RetryCap < opts.RetryBase {
		opts.RetryCap = opts.RetryBase
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	m := &Machine{
		id:          uuid.NewString(),
		sessionID:   opts.SessionID,
		state:       StateEditing,
		draft:       d.Clone(),
		maxAttempts: opts.MaxAnchorAttempts,
		retryBase:   opts.RetryBase,
		retryCap:    opts.RetryCap,
		now:         opts.Now,
	}
	m.history = []State{StateEditing}
	m.updatedAt = m.now()
	return m
}

func (m *Machine) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// UpdateDraft applies a patch. Only an editing draft may change.
func (m *Machine) UpdateDraft(p draft.Patch) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateEditing {
		return Snapshot{}, fmt.Errorf("%w: state is %s", ErrDraftLocked, m.state)
	}
	next := m.draft.Clone()
	if err := p.Apply(&next); err != nil {
		return Snapshot{}, err
	}
	m.draft = next
	m.updatedAt = m.now()
	return m.snapshotLocked(), nil
}

// Confirm asks to submit the current draft. A second confirm while a
// submission is under way is rejected rather than queued.
func (m *Machine) Confirm() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateEditing {
		return Snapshot{}, fmt.Errorf("%w: state is %s", ErrAlreadySubmitting, m.state)
	}
	if err := draft.Validate(m.draft); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	m.transitionLocked(StateConfirming)
	return m.snapshotLocked(), nil
}

// Acknowledge records the reporter's explicit consent and freezes the draft
// into the payload that will be signed by reporter.
func (m *Machine) Acknowledge(reporter string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConfirming {
		return Snapshot{}, m.invalidLocked("acknowledge")
	}
	reporter = strings.TrimSpace(reporter)
	if reporter == "" {
		return Snapshot{}, errors.New("reporter identity is required")
	}

	now := m.now()
	frozen := m.draft.Clone()
	payload, token := RenderPayload(PayloadInput{Draft: frozen, Reporter: reporter, Timestamp: now})
	m.record = &Record{
		ID:             m.id,
		Template:       PayloadTemplate,
		Draft:          frozen,
		SignerIdentity: reporter,
		SignedPayload:  payload,
		ProofToken:     token,
		CreatedAt:      now,
	}
	m.transitionLocked(StateSigning)
	return m.snapshotLocked(), nil
}

// Cancel backs out of confirmation; the draft stays as it was.
func (m *Machine) Cancel() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConfirming {
		return Snapshot{}, m.invalidLocked("cancel")
	}
	m.transitionLocked(StateEditing)
	return m.snapshotLocked(), nil
}

func (m *Machine) SignatureObtained(signature string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateSigning || m.record == nil {
		return Snapshot{}, m.invalidLocked("signature_obtained")
	}
	if strings.TrimSpace(signature) == "" {
		return Snapshot{}, errors.New("signature is required")
	}
	now := m.now()
	m.record.Signature = signature
	m.record.SignedAt = &now
	m.transitionLocked(StateAnchoring)
	return m.snapshotLocked(), nil
}

func (m *Machine) SignatureRejected(reason string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateSigning {
		return Snapshot{}, m.invalidLocked("signature_rejected")
	}
	m.failLocked(FailureSignatureRejected, reason)
	return m.snapshotLocked(), nil
}

func (m *Machine) Anchored(proofHash string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAnchoring || m.record == nil {
		return Snapshot{}, m.invalidLocked("anchored")
	}
	if strings.TrimSpace(proofHash) == "" {
		return Snapshot{}, errors.New("proof hash is required")
	}
	now := m.now()
	m.record.ProofHash = proofHash
	m.record.AnchoredAt = &now
	m.transitionLocked(StateSucceeded)
	return m.snapshotLocked(), nil
}

// AnchoringFailed moves to failed while keeping the signed payload so a retry
// does not need a second signature.
func (m *Machine) AnchoringFailed(cause error) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAnchoring {
		return Snapshot{}, m.invalidLocked("anchoring_failed")
	}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	m.failLocked(FailureAnchoring, detail)
	return m.snapshotLocked(), nil
}

// RetryAnchoring re-enters anchoring with the payload and signature already
// held. Retries are bounded and spaced by exponential backoff.
func (m *Machine) RetryAnchoring() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFailed || m.failure != FailureAnchoring || m.record == nil || m.record.Signature == "" {
		return Snapshot{}, m.invalidLocked("retry_anchoring")
	}
	if m.anchorAttempts >= m.maxAttempts {
		return Snapshot{}, fmt.Errorf("%w: %d attempts", ErrRetryLimit, m.anchorAttempts)
	}
	if now := m.now(); now.Before(m.nextRetryAt) {
		return Snapshot{}, fmt.Errorf("%w: retry after %s", ErrRetryTooSoon, m.nextRetryAt.Sub(now).Round(time.Millisecond))
	}
	m.failure = FailureNone
	m.failureDetail = ""
	m.transitionLocked(StateAnchoring)
	return m.snapshotLocked(), nil
}

// Revise returns a rejected submission to editing with the same draft.
func (m *Machine) Revise() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFailed || m.failure != FailureSignatureRejected {
		return Snapshot{}, m.invalidLocked("revise")
	}
	m.record = nil
	m.failure = FailureNone
	m.failureDetail = ""
	m.transitionLocked(StateEditing)
	return m.snapshotLocked(), nil
}

// Sign asks signer for a signature over the frozen payload. A declined
// signature fails the submission; an unreachable signer leaves it in signing
// so the reporter can try again.
func (m *Machine) Sign(ctx context.Context, signer Signer) (Snapshot, error) {
	m.mu.Lock()
	if m.state != StateSigning || m.record == nil {
		err := m.invalidLocked("sign")
		m.mu.Unlock()
		return Snapshot{}, err
	}
	if m.inFlight {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: signing in progress", ErrAlreadySubmitting)
	}
	m.inFlight = true
	payload := m.record.SignedPayload
	m.mu.Unlock()

	sig, err := signer.Sign(ctx, payload)

	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()

	switch {
	case errors.Is(err, ErrSignatureDeclined):
		snap, tErr := m.SignatureRejected(err.Error())
		if tErr != nil {
			return Snapshot{}, tErr
		}
		return snap, fmt.Errorf("%w: %w", ErrSignatureRejected, err)
	case err != nil:
		return m.Snapshot(), fmt.Errorf("%w: %w", ErrSigningUnavailable, err)
	}
	return m.SignatureObtained(sig)
}

// Anchor makes one anchoring attempt.
func (m *Machine) Anchor(ctx context.Context, anchorer Anchorer) (Snapshot, error) {
	m.mu.Lock()
	if m.state != StateAnchoring || m.record == nil {
		err := m.invalidLocked("anchor")
		m.mu.Unlock()
		return Snapshot{}, err
	}
	if m.inFlight {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: anchoring in progress", ErrAlreadySubmitting)
	}
	m.inFlight = true
	m.anchorAttempts++
	payload, signature := m.record.SignedPayload, m.record.Signature
	m.mu.Unlock()

	proofHash, err := anchorer.Anchor(ctx, payload, signature)

	m.mu.Lock()
	m.inFlight = false
	if err != nil {
		m.nextRetryAt = m.now().Add(reliability.ExponentialBackoff(m.anchorAttempts-1, m.retryBase, m.retryCap))
	}
	m.mu.Unlock()

	if err != nil {
		snap, tErr := m.AnchoringFailed(err)
		if tErr != nil {
			return Snapshot{}, tErr
		}
		return snap, fmt.Errorf("%w: %w", ErrAnchoringFailed, err)
	}
	return m.Anchored(proofHash)
}

func (m *Machine) transitionLocked(next State) {
	m.state = next
	m.history = append(m.history, next)
	m.updatedAt = m.now()
}

func (m *Machine) failLocked(kind FailureKind, detail string) {
	m.failure = kind
	m.failureDetail = strings.TrimSpace(detail)
	m.transitionLocked(StateFailed)
}

func (m *Machine) invalidLocked(event string) error {
	return fmt.Errorf("%w: %s is not valid in %s", ErrInvalidTransition, event, m.state)
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             m.id,
		SessionID:      m.sessionID,
		State:          m.state,
		Draft:          m.draft.Clone(),
		Failure:        m.failure,
		FailureDetail:  m.failureDetail,
		History:        append([]State(nil), m.history...),
		AnchorAttempts: m.anchorAttempts,
		UpdatedAt:      m.updatedAt,
	}
	if m.record != nil {
		rec := m.record.Clone()
		snap.Record = &rec
	}
	if m.state == StateFailed && m.failure == FailureAnchoring && !m.nextRetryAt.IsZero() {
		t := m.nextRetryAt
		snap.NextRetryAt = &t
	}
	return snap
}
