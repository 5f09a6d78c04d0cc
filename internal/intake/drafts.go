package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/safemind/internal/conversation"
	"github.com/ent0n29/safemind/internal/draft"
	"github.com/ent0n29/safemind/internal/location"
	"github.com/ent0n29/safemind/internal/observability"
	"github.com/ent0n29/safemind/internal/session"
	"github.com/ent0n29/safemind/internal/submission"
)

// DraftRequest starts a draft. TurnID seeds it from an assistant turn that
// suggested a report; Seed seeds it from the hand-off text directly; with
// neither, the manual fields are used as typed.
type DraftRequest struct {
	TurnID      string `json:"turn_id,omitempty"`
	Seed        string `json:"seed,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// StartDraft replaces an editing or finished draft with a fresh one. A
// submission past editing and not yet terminal blocks a new draft.
func (s *Service) StartDraft(sessionID string, req DraftRequest) (submission.Snapshot, error) {
	if _, err := s.state(sessionID); err != nil {
		return submission.Snapshot{}, err
	}
	d, err := s.seedDraft(sessionID, req)
	if err != nil {
		return submission.Snapshot{}, err
	}

	s.mu.Lock()
	st, ok := s.states[sessionID]
	if !ok {
		s.mu.Unlock()
		return submission.Snapshot{}, session.ErrEnded
	}
	if st.submitting {
		s.mu.Unlock()
		return submission.Snapshot{}, fmt.Errorf("%w: submission in progress", submission.ErrAlreadySubmitting)
	}
	if st.machine != nil {
		if state := st.machine.State(); state != submission.StateEditing && !state.Terminal() {
			s.mu.Unlock()
			return submission.Snapshot{}, fmt.Errorf("%w: current draft is %s", submission.ErrAlreadySubmitting, state)
		}
	}
	st.machine = submission.NewMachine(d, submission.Options{
		SessionID:         sessionID,
		MaxAnchorAttempts: s.cfg.MaxAnchorAttempts,
		RetryBase:         s.cfg.RetryBase,
		RetryCap:          s.cfg.RetryCap,
	})
	snap := st.machine.Snapshot()
	s.mu.Unlock()

	s.afterTransition(snap, 0)
	return snap, nil
}

func (s *Service) seedDraft(sessionID string, req DraftRequest) (draft.Draft, error) {
	var d draft.Draft
	switch {
	case strings.TrimSpace(req.TurnID) != "":
		turn, err := s.findTurn(sessionID, strings.TrimSpace(req.TurnID))
		if err != nil {
			return draft.Draft{}, err
		}
		if d, err = draft.FromTriageAction(turn.Action, turn.RelatedContext); err != nil {
			return draft.Draft{}, err
		}
	case strings.TrimSpace(req.Seed) != "":
		var err error
		if d, err = draft.FromTriageAction(conversation.ActionSuggestReport, strings.TrimSpace(req.Seed)); err != nil {
			return draft.Draft{}, err
		}
	default:
		return draft.FromManualEntry(req.Category, req.Description, req.Location)
	}

	patch := draft.Patch{}
	if strings.TrimSpace(req.Category) != "" {
		patch.Category = &req.Category
	}
	if strings.TrimSpace(req.Location) != "" {
		patch.Location = &req.Location
	}
	if err := patch.Apply(&d); err != nil {
		return draft.Draft{}, err
	}
	return d, nil
}

func (s *Service) findTurn(sessionID, turnID string) (conversation.Turn, error) {
	turns, err := s.Transcript(sessionID)
	if err != nil {
		return conversation.Turn{}, err
	}
	for _, t := range turns {
		if t.ID == turnID {
			return t, nil
		}
	}
	return conversation.Turn{}, fmt.Errorf("%w: turn %s", ErrNoDraft, turnID)
}

func (s *Service) UpdateDraft(sessionID string, patch draft.Patch) (submission.Snapshot, error) {
	return s.step(sessionID, func(m *submission.Machine) (submission.Snapshot, error) {
		return m.UpdateDraft(patch)
	})
}

func (s *Service) Confirm(sessionID string) (submission.Snapshot, error) {
	return s.step(sessionID, (*submission.Machine).Confirm)
}

// Acknowledge records consent; the configured signer's identity becomes the
// reporter printed in the payload.
func (s *Service) Acknowledge(sessionID string) (submission.Snapshot, error) {
	if s.deps.Signer == nil {
		return submission.Snapshot{}, submission.ErrSigningUnavailable
	}
	reporter := s.deps.Signer.Identity()
	return s.step(sessionID, func(m *submission.Machine) (submission.Snapshot, error) {
		return m.Acknowledge(reporter)
	})
}

func (s *Service) CancelConfirmation(sessionID string) (submission.Snapshot, error) {
	return s.step(sessionID, (*submission.Machine).Cancel)
}

func (s *Service) ReviseDraft(sessionID string) (submission.Snapshot, error) {
	return s.step(sessionID, (*submission.Machine).Revise)
}

// Submit signs the acknowledged payload and anchors it. It picks up from
// anchoring when signing already succeeded.
func (s *Service) Submit(ctx context.Context, sessionID string) (submission.Snapshot, error) {
	m, release, err := s.beginSubmit(sessionID)
	if err != nil {
		return submission.Snapshot{}, err
	}
	defer release()

	switch state := m.State(); state {
	case submission.StateSigning, submission.StateAnchoring:
	default:
		return m.Snapshot(), fmt.Errorf("%w: submit is not valid in %s", submission.ErrInvalidTransition, state)
	}

	started := time.Now()
	if m.State() == submission.StateSigning {
		if s.deps.Signer == nil {
			return m.Snapshot(), submission.ErrSigningUnavailable
		}
		before := len(m.Snapshot().History)
		signStart := time.Now()
		snap, err := m.Sign(ctx, s.deps.Signer)
		s.metrics.ObserveStage(observability.StageSign, time.Since(signStart))
		s.afterTransition(snap, before)
		if err != nil {
			s.logSubmitError(snap, err)
			if errors.Is(err, submission.ErrSigningUnavailable) {
				s.publishError(sessionID, "signing_unavailable", "signer", err)
			}
			return snap, err
		}
	}

	snap, err := s.anchor(ctx, m)
	if err == nil {
		s.metrics.ObserveStage(observability.StageSubmitTotal, time.Since(started))
	}
	return snap, err
}

// RetryAnchoring re-anchors a failed submission with its existing signature.
func (s *Service) RetryAnchoring(ctx context.Context, sessionID string) (submission.Snapshot, error) {
	m, release, err := s.beginSubmit(sessionID)
	if err != nil {
		return submission.Snapshot{}, err
	}
	defer release()

	before := len(m.Snapshot().History)
	snap, err := m.RetryAnchoring()
	if err != nil {
		return m.Snapshot(), err
	}
	s.afterTransition(snap, before)
	return s.anchor(ctx, m)
}

func (s *Service) anchor(ctx context.Context, m *submission.Machine) (submission.Snapshot, error) {
	if s.deps.Anchorer == nil {
		return m.Snapshot(), fmt.Errorf("%w: no ledger configured", submission.ErrAnchoringFailed)
	}
	actx, cancel := context.WithTimeout(ctx, s.cfg.AnchorTimeout)
	defer cancel()

	before := len(m.Snapshot().History)
	started := time.Now()
	snap, err := m.Anchor(actx, s.deps.Anchorer)
	s.metrics.ObserveAnchor(time.Since(started))
	s.afterTransition(snap, before)
	if err != nil {
		if !errors.Is(err, submission.ErrAnchoringFailed) {
			return m.Snapshot(), err
		}
		s.logSubmitError(snap, err)
		s.metrics.ObserveProviderError("ledger", "anchor_failed")
		s.publishError(snap.SessionID, "anchoring_failed", "ledger", err)
		return snap, err
	}
	s.logger.Info("report anchored",
		zap.String("session_id", snap.SessionID),
		zap.String("submission_id", snap.ID),
		zap.String("proof_hash", snap.Record.ProofHash),
		zap.Int("attempts", snap.AnchorAttempts),
	)
	return snap, nil
}

// DiscardDraft drops the active draft. A submission that is being signed or
// anchored cannot be discarded.
func (s *Service) DiscardDraft(sessionID string) error {
	if _, err := s.state(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sessionID]
	if !ok {
		return session.ErrEnded
	}
	if st.machine == nil {
		return ErrNoDraft
	}
	if st.submitting || st.machine.State() == submission.StateAnchoring {
		return fmt.Errorf("%w: cannot discard during submission", submission.ErrAlreadySubmitting)
	}
	st.machine = nil
	return nil
}

// Submission returns the active submission for the session.
func (s *Service) Submission(sessionID string) (submission.Snapshot, error) {
	m, err := s.machine(sessionID)
	if err != nil {
		return submission.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// History lists stored submissions for the session, newest first, including
// discarded and finished ones.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]submission.Snapshot, error) {
	if s.deps.Submissions == nil {
		return nil, nil
	}
	if err := s.writer.flush(ctx); err != nil {
		return nil, err
	}
	return s.deps.Submissions.ListBySession(ctx, sessionID, limit)
}

// ResolveLocation turns coordinates into the short place name used on drafts.
func (s *Service) ResolveLocation(ctx context.Context, c location.Coordinates) (location.Result, error) {
	started := time.Now()
	res, err := s.deps.Resolver.Resolve(ctx, c)
	s.metrics.ObserveStage(observability.StageGeocode, time.Since(started))
	return res, err
}

// ApplyCurrentLocation resolves the device position and writes it onto the
// editing draft.
func (s *Service) ApplyCurrentLocation(ctx context.Context, sessionID string, src location.PositionSource) (submission.Snapshot, location.Result, error) {
	m, err := s.machine(sessionID)
	if err != nil {
		return submission.Snapshot{}, location.Result{}, err
	}
	if state := m.State(); state != submission.StateEditing {
		return m.Snapshot(), location.Result{}, fmt.Errorf("%w: state is %s", submission.ErrDraftLocked, state)
	}
	started := time.Now()
	res, err := s.deps.Resolver.ResolveCurrent(ctx, src)
	s.metrics.ObserveStage(observability.StageGeocode, time.Since(started))
	if err != nil {
		return m.Snapshot(), location.Result{}, err
	}
	snap, err := s.UpdateDraft(sessionID, draft.Patch{Location: &res.Location})
	return snap, res, err
}

func (s *Service) machine(sessionID string) (*submission.Machine, error) {
	if _, err := s.state(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sessionID]
	if !ok {
		return nil, session.ErrEnded
	}
	if st.machine == nil {
		return nil, ErrNoDraft
	}
	return st.machine, nil
}

func (s *Service) step(sessionID string, fn func(*submission.Machine) (submission.Snapshot, error)) (submission.Snapshot, error) {
	m, err := s.machine(sessionID)
	if err != nil {
		return submission.Snapshot{}, err
	}
	before := len(m.Snapshot().History)
	snap, err := fn(m)
	if err != nil {
		return m.Snapshot(), err
	}
	s.afterTransition(snap, before)
	return snap, nil
}

// beginSubmit marks the session as submitting so the draft cannot be
// replaced or discarded underneath a signing or anchoring call.
func (s *Service) beginSubmit(sessionID string) (*submission.Machine, func(), error) {
	if _, err := s.state(sessionID); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sessionID]
	if !ok {
		return nil, nil, session.ErrEnded
	}
	if st.machine == nil {
		return nil, nil, ErrNoDraft
	}
	if st.submitting {
		return nil, nil, fmt.Errorf("%w: submission in progress", submission.ErrAlreadySubmitting)
	}
	st.submitting = true
	return st.machine, func() {
		s.mu.Lock()
		st.submitting = false
		s.mu.Unlock()
	}, nil
}

// afterTransition records and publishes every state entered since the
// history had length before, then persists the snapshot.
func (s *Service) afterTransition(snap submission.Snapshot, before int) {
	if snap.ID == "" {
		return
	}
	if before < 1 {
		before = 1
	}
	for i := before; i < len(snap.History); i++ {
		s.metrics.ObserveTransition(string(snap.History[i-1]), string(snap.History[i]))
	}
	if before == 1 && len(snap.History) == 1 {
		s.metrics.ObserveTransition("none", string(snap.State))
	}
	s.publishSubmission(snap)
	s.persistSubmission(snap)
}

func (s *Service) logSubmitError(snap submission.Snapshot, err error) {
	s.logger.Warn("submission step failed",
		zap.String("session_id", snap.SessionID),
		zap.String("submission_id", snap.ID),
		zap.String("state", string(snap.State)),
		zap.String("failure", string(snap.Failure)),
		zap.Int("anchor_attempts", snap.AnchorAttempts),
		zap.Error(err),
	)
}
