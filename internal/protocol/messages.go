package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTurn      MessageType = "client_turn"
	TypeClientControl   MessageType = "client_control"
	TypeUserTurn        MessageType = "user_turn"
	TypeAssistantTurn   MessageType = "assistant_turn"
	TypeEscalation      MessageType = "escalation"
	TypeSubmissionState MessageType = "submission_state"
	TypeSystemEvent     MessageType = "system_event"
	TypeErrorEvent      MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTurn carries free text typed by the user.
type ClientTurn struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
}

type UserTurn struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Seq       int         `json:"seq"`
	Text      string      `json:"text"`
}

type AssistantTurn struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	TurnID         string      `json:"turn_id"`
	Seq            int         `json:"seq"`
	Text           string      `json:"text"`
	Action         string      `json:"action"`
	RelatedContext string      `json:"related_context,omitempty"`
}

type EscalationContact struct {
	Name     string   `json:"name"`
	Number   string   `json:"number"`
	Services []string `json:"services,omitempty"`
}

type Escalation struct {
	Type            MessageType         `json:"type"`
	SessionID       string              `json:"session_id"`
	TurnID          string              `json:"turn_id"`
	Severity        string              `json:"severity"`
	Contacts        []EscalationContact `json:"contacts"`
	FollowUpAfterMS int64               `json:"follow_up_after_ms"`
}

type SubmissionState struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	SubmissionID string      `json:"submission_id"`
	State        string      `json:"state"`
	Failure      string      `json:"failure,omitempty"`
	ProofHash    string      `json:"proof_hash,omitempty"`
	Detail       string      `json:"detail,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTurn:
		var msg ClientTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_turn")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of a known payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientTurn:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case UserTurn:
		return m.Type, true
	case AssistantTurn:
		return m.Type, true
	case Escalation:
		return m.Type, true
	case SubmissionState:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
