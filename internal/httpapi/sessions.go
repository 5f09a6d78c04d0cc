package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/safemind/internal/protocol"
	"github.com/ent0n29/safemind/internal/session"
	"github.com/ent0n29/safemind/internal/triage"
)

const (
	wsPongWait   = 120 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

type turnRequest struct {
	Text string `json:"text"`
}

type endSessionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resp, err := s.intake.StartSession(req.ReporterID)
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	var req endSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = session.EndReasonClient
	}

	sess, err := s.intake.EndSession(id, reason)
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	out, err := s.intake.Converse(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	canceled, err := s.intake.CancelTurn(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"canceled": canceled})
}

// handleTranscript serves the live transcript, or the redacted stored copy
// with ?stored=true (which also works after the session ended).
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if stored, _ := strconv.ParseBool(r.URL.Query().Get("stored")); stored {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records, err := s.intake.StoredTranscript(r.Context(), id, limit)
		if err != nil {
			respondErr(w, err, nil)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": records})
		return
	}
	turns, err := s.intake.Transcript(id)
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": turns})
}

// handleSessionWS streams session events to the client and accepts
// client_turn and client_control messages on the same socket.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	sess, err := s.intake.Sessions().Get(sessionID)
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	if sess.Status != session.StatusActive {
		respondErr(w, session.ErrEnded, nil)
		return
	}

	events, unsubscribe := s.intake.Subscribe(sessionID)
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, events, outbound)
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var inflight sync.WaitGroup
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			queue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}

		switch msg := parsed.(type) {
		case protocol.ClientTurn:
			if msg.SessionID != sessionID {
				queue(outbound, sessionMismatch(sessionID))
				continue
			}
			inflight.Add(1)
			go func(text string) {
				defer inflight.Done()
				_, err := s.intake.Converse(ctx, sessionID, text)
				if err == nil || errors.Is(err, triage.ErrTriageUnavailable) {
					// Success and triage failures are already on the event stream.
					return
				}
				_, code := classify(err)
				queue(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      code,
					Source:    "triage",
					Retryable: errors.Is(err, triage.ErrBusy),
					Detail:    err.Error(),
				})
			}(msg.Text)
		case protocol.ClientControl:
			if msg.SessionID != sessionID {
				queue(outbound, sessionMismatch(sessionID))
				continue
			}
			s.handleControl(sessionID, msg, outbound)
		}
	}

	cancel()
	inflight.Wait()
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) handleControl(sessionID string, msg protocol.ClientControl, outbound chan<- any) {
	switch strings.ToLower(strings.TrimSpace(msg.Action)) {
	case "cancel_turn":
		if _, err := s.intake.CancelTurn(sessionID); err != nil {
			s.logger.Debug("cancel turn failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	case "end_session":
		reason := strings.TrimSpace(msg.Reason)
		if reason == "" {
			reason = session.EndReasonClient
		}
		_, _ = s.intake.EndSession(sessionID, reason)
	default:
		queue(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "unsupported_control",
			Source:    "gateway",
			Detail:    "unknown action " + msg.Action,
		})
	}
}

// writeLoop owns every write on conn. It closes the socket once the session
// event stream ends so the read loop unblocks.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, events <-chan any, outbound <-chan any) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	write := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.metrics.ObserveWSMessage("outbound", "write_error")
			return false
		}
		if t, ok := protocol.TypeOf(msg); ok {
			s.metrics.ObserveWSMessage("outbound", string(t))
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(wsWriteWait))
				cancel()
				_ = conn.Close()
				return
			}
			if !write(evt) {
				cancel()
				_ = conn.Close()
				return
			}
		case msg := <-outbound:
			if !write(msg) {
				cancel()
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				cancel()
				_ = conn.Close()
				return
			}
		}
	}
}

// queue drops the message when the outbound buffer is saturated so reads
// never block on a slow writer.
func queue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
	}
}

func sessionMismatch(sessionID string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "session_mismatch",
		Source:    "gateway",
		Detail:    "message session_id does not match the connected session",
	}
}
