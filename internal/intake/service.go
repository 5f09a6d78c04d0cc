package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/safemind/internal/conversation"
	"github.com/ent0n29/safemind/internal/escalation"
	"github.com/ent0n29/safemind/internal/location"
	"github.com/ent0n29/safemind/internal/logging"
	"github.com/ent0n29/safemind/internal/memory"
	"github.com/ent0n29/safemind/internal/observability"
	"github.com/ent0n29/safemind/internal/reasoning"
	"github.com/ent0n29/safemind/internal/session"
	"github.com/ent0n29/safemind/internal/submission"
	"github.com/ent0n29/safemind/internal/triage"
)

var ErrNoDraft = errors.New("no draft in this session")

type Config struct {
	TriageWindow      int
	TriageTimeout     time.Duration
	AnchorTimeout     time.Duration
	MaxAnchorAttempts int
	RetryBase         time.Duration
	RetryCap          time.Duration
}

// Deps are the collaborators a Service drives. Transcripts and Submissions
// are optional.
type Deps struct {
	Sessions    *session.Manager
	Reasoning   reasoning.Adapter
	Signer      submission.Signer
	Anchorer    submission.Anchorer
	Resolver    *location.Resolver
	Escalation  *escalation.Builder
	Transcripts memory.Store
	Submissions submission.Store
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// Outcome is the result of one conversational exchange.
type Outcome struct {
	UserTurn   conversation.Turn      `json:"user_turn"`
	Turn       conversation.Turn      `json:"turn"`
	Escalation *escalation.Escalation `json:"escalation,omitempty"`
	// ReportSeed is the triggering user text when the reply suggests a report.
	ReportSeed string `json:"report_seed,omitempty"`
}

// Service owns, per session, one triage engine and at most one active
// submission. It publishes protocol events to session subscribers.
type Service struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	states      map[string]*sessionState
	subscribers map[string]map[int]chan any
	nextSubID   int
	closed      bool

	writer *writer
}

type sessionState struct {
	engine     *triage.Engine
	machine    *submission.Machine
	submitting bool
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.TriageWindow <= 0 {
		cfg.TriageWindow = conversation.DefaultWindow
	}
	if cfg.AnchorTimeout <= 0 {
		cfg.AnchorTimeout = 20 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = time.Minute
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(0)
	}
	if deps.Reasoning == nil {
		deps.Reasoning = reasoning.NewMockAdapter()
	}
	if deps.Escalation == nil {
		deps.Escalation = escalation.NewBuilder(escalation.DefaultDirectory())
	}
	if deps.Resolver == nil {
		deps.Resolver = location.NewResolver(nil, 0, deps.Logger)
	}
	svc := &Service{
		cfg:         cfg,
		deps:        deps,
		logger:      logging.OrNop(deps.Logger),
		metrics:     deps.Metrics,
		states:      make(map[string]*sessionState),
		subscribers: make(map[string]map[int]chan any),
	}
	svc.writer = newWriter(svc.logger, 1024)
	deps.Sessions.SetExpireHook(svc.handleExpired)
	return svc
}

func (s *Service) Sessions() *session.Manager { return s.deps.Sessions }

func (s *Service) EscalationDirectory() escalation.Directory {
	return s.deps.Escalation.Directory()
}

// StartSession opens a conversation seeded with the assistant greeting.
func (s *Service) StartSession(reporterID string) (session.CreateResponse, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return session.CreateResponse{}, triage.ErrClosed
	}
	s.mu.Unlock()

	sess := s.deps.Sessions.Create(strings.TrimSpace(reporterID))
	conv := conversation.NewContext(s.cfg.TriageWindow)
	greeting := conv.AppendAssistant(reasoning.Greeting, conversation.ActionNone, "")
	engine := triage.NewEngine(s.deps.Reasoning, conv, triage.Options{
		Timeout: s.cfg.TriageTimeout,
		Logger:  s.logger.With(zap.String("session_id", sess.ID)),
		Metrics: s.metrics,
	})

	s.mu.Lock()
	s.states[sess.ID] = &sessionState{engine: engine}
	s.mu.Unlock()

	s.persistTurns(sess.ID, conv.ID(), greeting)
	s.metrics.ObserveSessionEvent("created")
	s.metrics.SetActiveSessions(s.deps.Sessions.ActiveCount())
	s.logger.Info("session started", zap.String("session_id", sess.ID))

	return session.CreateResponse{
		SessionID:       sess.ID,
		ReporterID:      sess.ReporterID,
		Status:          sess.Status,
		Greeting:        greeting.Text,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.deps.Sessions.InactivityTimeout().Milliseconds(),
	}, nil
}

// Converse sends one user message through triage. Emergencies attach an
// escalation and never create a draft; report suggestions carry the seed.
func (s *Service) Converse(ctx context.Context, sessionID, text string) (Outcome, error) {
	st, err := s.state(sessionID)
	if err != nil {
		return Outcome{}, err
	}

	res, err := st.engine.SubmitUserTurn(ctx, text)
	conv := st.engine.Conversation()
	if err != nil {
		if res.UserTurn.ID != "" {
			s.persistTurns(sessionID, conv.ID(), res.UserTurn)
			s.publishUserTurn(sessionID, res.UserTurn)
		}
		if errors.Is(err, triage.ErrTriageUnavailable) {
			s.publishError(sessionID, "triage_unavailable", "triage", err)
		}
		return Outcome{UserTurn: res.UserTurn}, err
	}

	_ = s.deps.Sessions.RecordTurn(sessionID)
	s.persistTurns(sessionID, conv.ID(), res.UserTurn, res.AssistantTurn)
	s.publishUserTurn(sessionID, res.UserTurn)
	s.publishAssistantTurn(sessionID, res.AssistantTurn)

	out := Outcome{UserTurn: res.UserTurn, Turn: res.AssistantTurn}
	switch res.AssistantTurn.Action {
	case conversation.ActionEmergency:
		esc := s.deps.Escalation.Build(res.UserTurn.Text)
		out.Escalation = &esc
		_ = s.deps.Sessions.RecordEscalation(sessionID)
		s.metrics.ObserveSessionEvent("escalation")
		s.logger.Warn("emergency escalation raised",
			zap.String("session_id", sessionID),
			zap.String("severity", string(esc.Severity)),
			zap.Float64("risk_score", esc.RiskScore),
			zap.Duration("follow_up_after", esc.FollowUpAfter),
		)
		s.publishEscalation(sessionID, res.AssistantTurn.ID, esc)
	case conversation.ActionSuggestReport:
		out.ReportSeed = res.AssistantTurn.RelatedContext
	}
	return out, nil
}

// CancelTurn aborts the outstanding triage request for the session.
func (s *Service) CancelTurn(sessionID string) (bool, error) {
	st, err := s.state(sessionID)
	if err != nil {
		return false, err
	}
	return st.engine.CancelInFlight(), nil
}

func (s *Service) Transcript(sessionID string) ([]conversation.Turn, error) {
	s.mu.Lock()
	st, ok := s.states[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, session.ErrNotFound
	}
	return st.engine.Conversation().Transcript(), nil
}

// StoredTranscript reads the redacted transcript from the transcript store.
func (s *Service) StoredTranscript(ctx context.Context, sessionID string, limit int) ([]memory.TurnRecord, error) {
	if s.deps.Transcripts == nil {
		return nil, nil
	}
	if err := s.writer.flush(ctx); err != nil {
		return nil, err
	}
	return s.deps.Transcripts.SessionTranscript(ctx, sessionID, limit)
}

// EndSession ends the session, cancels in-flight triage and drops any
// active submission.
func (s *Service) EndSession(sessionID, reason string) (*session.Session, error) {
	sess, err := s.deps.Sessions.End(sessionID, reason)
	if err != nil {
		return nil, err
	}
	s.dropState(sessionID, reason)
	return sess, nil
}

func (s *Service) handleExpired(sess *session.Session) {
	s.dropState(sess.ID, session.EndReasonExpired)
}

func (s *Service) dropState(sessionID, reason string) {
	s.mu.Lock()
	st, ok := s.states[sessionID]
	delete(s.states, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	st.engine.Close()
	s.publishSystem(sessionID, "session_ended", reason)
	s.closeSubscribers(sessionID)
	s.metrics.ObserveSessionEvent("ended_" + reason)
	s.metrics.SetActiveSessions(s.deps.Sessions.ActiveCount())
	s.logger.Info("session ended", zap.String("session_id", sessionID), zap.String("reason", reason))
}

// Close ends every session and waits for pending persistence writes.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_, _ = s.EndSession(id, "shutdown")
	}
	s.writer.close()
}

func (s *Service) state(sessionID string) (*sessionState, error) {
	if err := s.deps.Sessions.Touch(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sessionID]
	if !ok {
		return nil, session.ErrEnded
	}
	return st, nil
}

func (s *Service) persistTurns(sessionID, conversationID string, turns ...conversation.Turn) {
	store := s.deps.Transcripts
	if store == nil || len(turns) == 0 {
		return
	}
	for _, t := range turns {
		rec := memory.RecordFromTurn(sessionID, conversationID, t)
		s.writer.enqueue("turn", func(ctx context.Context) error {
			return store.SaveTurn(ctx, rec)
		})
	}
}

func (s *Service) persistSubmission(snap submission.Snapshot) {
	store := s.deps.Submissions
	if store == nil {
		return
	}
	s.writer.enqueue("submission", func(ctx context.Context) error {
		return store.SaveSubmission(ctx, snap)
	})
}
