package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ent0n29/safemind/internal/anchor"
	"github.com/ent0n29/safemind/internal/conversation"
	"github.com/ent0n29/safemind/internal/draft"
	"github.com/ent0n29/safemind/internal/escalation"
	"github.com/ent0n29/safemind/internal/location"
	"github.com/ent0n29/safemind/internal/memory"
	"github.com/ent0n29/safemind/internal/protocol"
	"github.com/ent0n29/safemind/internal/reasoning"
	"github.com/ent0n29/safemind/internal/session"
	"github.com/ent0n29/safemind/internal/submission"
	"github.com/ent0n29/safemind/internal/triage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type flakyLedger struct {
	mu       sync.Mutex
	failures int
	inner    *anchor.InMemoryLedger
}

func (l *flakyLedger) Anchor(ctx context.Context, payload, signature string) (string, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return "", errors.New("ledger unreachable")
	}
	l.mu.Unlock()
	return l.inner.Anchor(ctx, payload, signature)
}

type gatedAdapter struct {
	release chan struct{}
}

func (a *gatedAdapter) Name() string { return "gated" }

func (a *gatedAdapter) Respond(ctx context.Context, req reasoning.Request) (reasoning.Response, error) {
	select {
	case <-a.release:
		return reasoning.Response{Text: "I hear you.", Provider: a.Name()}, nil
	case <-ctx.Done():
		return reasoning.Response{}, ctx.Err()
	}
}

type fixture struct {
	svc         *Service
	ledger      *anchor.InMemoryLedger
	transcripts *memory.InMemoryStore
	submissions *submission.InMemoryStore
}

func newFixture(t *testing.T, mutate func(*Config, *Deps)) *fixture {
	t.Helper()
	signer, err := submission.NewEd25519SignerFromHex(strings.Repeat("07", 32))
	require.NoError(t, err)

	f := &fixture{
		ledger:      anchor.NewInMemoryLedger(),
		transcripts: memory.NewInMemoryStore(),
		submissions: submission.NewInMemoryStore(),
	}
	cfg := Config{TriageTimeout: 2 * time.Second, AnchorTimeout: time.Second, MaxAnchorAttempts: 3, RetryBase: time.Millisecond, RetryCap: 2 * time.Millisecond}
	deps := Deps{
		Sessions:    session.NewManager(time.Minute),
		Reasoning:   reasoning.NewMockAdapter(),
		Signer:      signer,
		Anchorer:    f.ledger,
		Escalation:  escalation.NewBuilder(escalation.DefaultDirectory()),
		Transcripts: f.transcripts,
		Submissions: f.submissions,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	f.svc = NewService(cfg, deps)
	t.Cleanup(f.svc.Close)
	return f
}

const harassmentText = "My supervisor touched me without consent during the late shift on Friday."

func TestStartSessionSeedsGreeting(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("  anon-1 ")
	require.NoError(t, err)
	assert.Equal(t, "anon-1", resp.ReporterID)
	assert.Equal(t, reasoning.Greeting, resp.Greeting)
	assert.Equal(t, time.Minute.Milliseconds(), resp.InactivityTTLMS)

	turns, err := f.svc.Transcript(resp.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, conversation.RoleAssistant, turns[0].Role)
	assert.Equal(t, conversation.ActionNone, turns[0].Action)
}

func TestConverseSuggestReportCarriesSeed(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)

	out, err := f.svc.Converse(context.Background(), resp.SessionID, harassmentText)
	require.NoError(t, err)
	assert.Equal(t, conversation.ActionSuggestReport, out.Turn.Action)
	assert.Equal(t, harassmentText, out.ReportSeed)
	assert.Nil(t, out.Escalation)
	assert.NotContains(t, out.Turn.Text, protocol.MarkerSuggestReport)

	sess, err := f.svc.Sessions().Get(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.TurnCount)
}

func TestConverseEmergencyEscalatesWithoutDraft(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	events, cancel := f.svc.Subscribe(resp.SessionID)
	defer cancel()

	out, err := f.svc.Converse(context.Background(), resp.SessionID, "I want to kill myself tonight")
	require.NoError(t, err)
	assert.Equal(t, conversation.ActionEmergency, out.Turn.Action)
	require.NotNil(t, out.Escalation)
	assert.Equal(t, escalation.SeverityCritical, out.Escalation.Severity)
	assert.NotEmpty(t, out.Escalation.Contacts)
	assert.Empty(t, out.ReportSeed)

	_, err = f.svc.Submission(resp.SessionID)
	assert.ErrorIs(t, err, ErrNoDraft)

	var types []protocol.MessageType
	for i := 0; i < 3; i++ {
		evt := <-events
		typ, ok := protocol.TypeOf(evt)
		require.True(t, ok)
		types = append(types, typ)
	}
	assert.Equal(t, []protocol.MessageType{protocol.TypeUserTurn, protocol.TypeAssistantTurn, protocol.TypeEscalation}, types)

	sess, err := f.svc.Sessions().Get(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.EscalationCount)
}

func TestConverseRejectsBlankAndBusy(t *testing.T) {
	gate := &gatedAdapter{release: make(chan struct{})}
	f := newFixture(t, func(_ *Config, d *Deps) { d.Reasoning = gate })
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)

	_, err = f.svc.Converse(context.Background(), resp.SessionID, "   ")
	assert.ErrorIs(t, err, triage.ErrEmptyInput)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Converse(context.Background(), resp.SessionID, "first")
		done <- err
	}()
	require.Eventually(t, func() bool {
		st, err := f.svc.state(resp.SessionID)
		return err == nil && st.engine.Busy()
	}, time.Second, 5*time.Millisecond)

	_, err = f.svc.Converse(context.Background(), resp.SessionID, "second")
	assert.ErrorIs(t, err, triage.ErrBusy)

	close(gate.release)
	require.NoError(t, <-done)

	turns, err := f.svc.Transcript(resp.SessionID)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
}

func TestConverseUnknownAndEndedSession(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Converse(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, session.ErrNotFound)

	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	events, _ := f.svc.Subscribe(resp.SessionID)
	_, err = f.svc.EndSession(resp.SessionID, session.EndReasonClient)
	require.NoError(t, err)

	_, err = f.svc.Converse(context.Background(), resp.SessionID, "hello")
	assert.ErrorIs(t, err, session.ErrEnded)

	var last any
	for evt := range events {
		last = evt
	}
	sys, ok := last.(protocol.SystemEvent)
	require.True(t, ok)
	assert.Equal(t, "session_ended", sys.Code)
}

func driveToAcknowledged(t *testing.T, svc *Service, sessionID string) {
	t.Helper()
	_, err := svc.Confirm(sessionID)
	require.NoError(t, err)
	snap, err := svc.Acknowledge(sessionID)
	require.NoError(t, err)
	require.Equal(t, submission.StateSigning, snap.State)
}

func TestDraftFromSuggestedTurnToAnchoredReport(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	out, err := f.svc.Converse(context.Background(), resp.SessionID, harassmentText)
	require.NoError(t, err)

	snap, err := f.svc.StartDraft(resp.SessionID, DraftRequest{TurnID: out.Turn.ID, Category: "harassment"})
	require.NoError(t, err)
	assert.Equal(t, submission.StateEditing, snap.State)
	assert.Equal(t, harassmentText, snap.Draft.Description)
	assert.Equal(t, draft.CategoryHarassment, snap.Draft.Category)

	snap, _, err = f.svc.ApplyCurrentLocation(context.Background(), resp.SessionID, location.StaticPosition{
		Coordinates: location.Coordinates{Latitude: 6.5244, Longitude: 3.3792},
	})
	require.NoError(t, err)
	assert.Equal(t, "GPS: 6.524400, 3.379200", snap.Draft.Location)

	driveToAcknowledged(t, f.svc, resp.SessionID)
	snap, err = f.svc.Submit(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, submission.StateSucceeded, snap.State)
	require.NotNil(t, snap.Record)

	entry, err := f.ledger.Lookup(context.Background(), snap.Record.ProofHash)
	require.NoError(t, err)
	assert.Equal(t, snap.Record.SignedPayload, entry.Payload)

	stored, err := f.svc.History(context.Background(), resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, submission.StateSucceeded, stored[0].State)
}

func TestStartDraftRejectsNonReportTurn(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	turns, err := f.svc.Transcript(resp.SessionID)
	require.NoError(t, err)

	_, err = f.svc.StartDraft(resp.SessionID, DraftRequest{TurnID: turns[0].ID})
	assert.ErrorIs(t, err, draft.ErrNotReportable)

	_, err = f.svc.StartDraft(resp.SessionID, DraftRequest{TurnID: "nope"})
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestStartDraftBlockedWhileSubmitting(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	_, err = f.svc.StartDraft(resp.SessionID, DraftRequest{Category: "harassment", Description: harassmentText})
	require.NoError(t, err)
	driveToAcknowledged(t, f.svc, resp.SessionID)

	_, err = f.svc.StartDraft(resp.SessionID, DraftRequest{Seed: "something else entirely"})
	assert.ErrorIs(t, err, submission.ErrAlreadySubmitting)
	err = f.svc.DiscardDraft(resp.SessionID)
	assert.NoError(t, err, "a draft waiting for a signature can still be abandoned")
}

func TestAnchoringFailureThenRetry(t *testing.T) {
	ledger := &flakyLedger{failures: 1, inner: anchor.NewInMemoryLedger()}
	f := newFixture(t, func(_ *Config, d *Deps) { d.Anchorer = ledger })
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	_, err = f.svc.StartDraft(resp.SessionID, DraftRequest{Category: "corruption", Description: "The clerk demanded a bribe to process my permit application."})
	require.NoError(t, err)
	driveToAcknowledged(t, f.svc, resp.SessionID)

	snap, err := f.svc.Submit(context.Background(), resp.SessionID)
	require.ErrorIs(t, err, submission.ErrAnchoringFailed)
	assert.Equal(t, submission.StateFailed, snap.State)
	assert.Equal(t, submission.FailureAnchoring, snap.Failure)
	signed := snap.Record.SignedPayload

	require.Eventually(t, func() bool {
		snap, err = f.svc.RetryAnchoring(context.Background(), resp.SessionID)
		return !errors.Is(err, submission.ErrRetryTooSoon)
	}, time.Second, 2*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, submission.StateSucceeded, snap.State)
	assert.Equal(t, 2, snap.AnchorAttempts)
	assert.Equal(t, signed, snap.Record.SignedPayload)

	_, err = f.svc.StartDraft(resp.SessionID, DraftRequest{Seed: "new report"})
	assert.NoError(t, err, "a finished submission does not block a new draft")
}

func TestSubmitBeforeAcknowledgeIsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), resp.SessionID)
	assert.ErrorIs(t, err, ErrNoDraft)

	_, err = f.svc.StartDraft(resp.SessionID, DraftRequest{Category: "harassment", Description: harassmentText})
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), resp.SessionID)
	assert.ErrorIs(t, err, submission.ErrInvalidTransition)
	assert.Zero(t, f.ledger.Len())
}

func TestStoredTranscriptIsRedacted(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	_, err = f.svc.Converse(context.Background(), resp.SessionID, "Please email me at jane.doe@example.com")
	require.NoError(t, err)

	records, err := f.svc.StoredTranscript(context.Background(), resp.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, string(conversation.RoleAssistant), string(records[0].Role))
	assert.NotContains(t, records[1].Content, "jane.doe@example.com")
	assert.True(t, records[1].PIIRedacted)
}

func TestCloseEndsSessions(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	f.svc.Close()

	sess, err := f.svc.Sessions().Get(resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusEnded, sess.Status)
	_, err = f.svc.StartSession("")
	assert.ErrorIs(t, err, triage.ErrClosed)
}

func TestEscalationWaitsForLaggingSubscriber(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	events, cancel := f.svc.Subscribe(resp.SessionID)
	defer cancel()

	for len(events) < cap(events) {
		f.svc.publishSystem(resp.SessionID, "filler", "")
	}
	f.svc.publishSystem(resp.SessionID, "dropped", "")

	read := make(chan struct{})
	go func() {
		defer close(read)
		time.Sleep(20 * time.Millisecond)
		<-events
	}()
	f.svc.publishEscalation(resp.SessionID, "turn-1", escalation.Escalation{Severity: escalation.SeverityCritical})
	<-read

	var last any
	for len(events) > 0 {
		last = <-events
	}
	typ, ok := protocol.TypeOf(last)
	require.True(t, ok)
	assert.Equal(t, protocol.TypeEscalation, typ)
}

func TestEscalationGivesUpOnStalledSubscriber(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.svc.StartSession("")
	require.NoError(t, err)
	events, cancel := f.svc.Subscribe(resp.SessionID)
	defer cancel()

	for len(events) < cap(events) {
		f.svc.publishSystem(resp.SessionID, "filler", "")
	}

	started := time.Now()
	f.svc.publishEscalation(resp.SessionID, "turn-1", escalation.Escalation{Severity: escalation.SeverityHigh})
	assert.Less(t, time.Since(started), 10*escalationSendTimeout)
	assert.Len(t, events, cap(events))
}
