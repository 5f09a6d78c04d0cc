package intake

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/safemind/internal/conversation"
	"github.com/ent0n29/safemind/internal/escalation"
	"github.com/ent0n29/safemind/internal/protocol"
	"github.com/ent0n29/safemind/internal/reliability"
	"github.com/ent0n29/safemind/internal/submission"
)

// escalationSendTimeout bounds how long an escalation waits on a subscriber
// whose buffer is full.
const escalationSendTimeout = 250 * time.Millisecond

// Subscribe streams protocol events for one session. The channel is closed
// when the session ends or the returned cancel func runs. Slow readers miss
// turn and submission events rather than stall the service; escalations wait
// briefly for room in the buffer.
func (s *Service) Subscribe(sessionID string) (<-chan any, func()) {
	sessionID = strings.TrimSpace(sessionID)
	s.mu.Lock()
	if _, ok := s.states[sessionID]; !ok || sessionID == "" {
		s.mu.Unlock()
		ch := make(chan any)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan any, 256)
	s.nextSubID++
	id := s.nextSubID
	if _, ok := s.subscribers[sessionID]; !ok {
		s.subscribers[sessionID] = make(map[int]chan any)
	}
	s.subscribers[sessionID][id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[sessionID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(s.subscribers, sessionID)
		}
	}
}

func (s *Service) publish(sessionID string, evt any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(sessionID, evt)
}

func (s *Service) publishLocked(sessionID string, evt any) {
	subs := s.subscribers[sessionID]
	if len(subs) == 0 {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// publishUrgent delivers evt like publish but waits up to
// escalationSendTimeout in total for full subscriber buffers.
func (s *Service) publishUrgent(sessionID string, evt any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subscribers[sessionID]
	if len(subs) == 0 {
		return
	}
	deadline := time.NewTimer(escalationSendTimeout)
	defer deadline.Stop()
	expired := false
	for id, ch := range subs {
		select {
		case ch <- evt:
			continue
		default:
		}
		if !expired {
			select {
			case ch <- evt:
				continue
			case <-deadline.C:
				expired = true
			}
		}
		s.logger.Error("escalation not delivered to subscriber",
			zap.String("session_id", sessionID),
			zap.Int("subscriber", id),
		)
		s.metrics.ObserveProviderError("stream", "escalation_dropped")
	}
}

func (s *Service) closeSubscribers(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers[sessionID] {
		delete(s.subscribers[sessionID], id)
		close(ch)
	}
	delete(s.subscribers, sessionID)
}

func (s *Service) publishUserTurn(sessionID string, t conversation.Turn) {
	s.publish(sessionID, protocol.UserTurn{
		Type:      protocol.TypeUserTurn,
		SessionID: sessionID,
		TurnID:    t.ID,
		Seq:       t.Seq,
		Text:      t.Text,
	})
}

func (s *Service) publishAssistantTurn(sessionID string, t conversation.Turn) {
	s.publish(sessionID, protocol.AssistantTurn{
		Type:           protocol.TypeAssistantTurn,
		SessionID:      sessionID,
		TurnID:         t.ID,
		Seq:            t.Seq,
		Text:           t.Text,
		Action:         string(t.Action),
		RelatedContext: t.RelatedContext,
	})
}

func (s *Service) publishEscalation(sessionID, turnID string, esc escalation.Escalation) {
	contacts := make([]protocol.EscalationContact, 0, len(esc.Contacts))
	for _, c := range esc.Contacts {
		contacts = append(contacts, protocol.EscalationContact{
			Name:     c.Name,
			Number:   c.Number,
			Services: append([]string(nil), c.Services...),
		})
	}
	s.publishUrgent(sessionID, protocol.Escalation{
		Type:            protocol.TypeEscalation,
		SessionID:       sessionID,
		TurnID:          turnID,
		Severity:        string(esc.Severity),
		Contacts:        contacts,
		FollowUpAfterMS: esc.FollowUpAfter.Milliseconds(),
	})
}

func (s *Service) publishSubmission(snap submission.Snapshot) {
	evt := protocol.SubmissionState{
		Type:         protocol.TypeSubmissionState,
		SessionID:    snap.SessionID,
		SubmissionID: snap.ID,
		State:        string(snap.State),
		Failure:      string(snap.Failure),
		Detail:       snap.FailureDetail,
	}
	if snap.Record != nil {
		evt.ProofHash = snap.Record.ProofHash
	}
	s.publish(snap.SessionID, evt)
}

func (s *Service) publishSystem(sessionID, code, detail string) {
	s.publish(sessionID, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      code,
		Detail:    detail,
	})
}

func (s *Service) publishError(sessionID, code, source string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.publish(sessionID, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: reliability.IsRetryableError(err),
		Detail:    detail,
	})
}
