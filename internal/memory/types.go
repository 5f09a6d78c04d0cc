package memory

import (
	"context"
	"time"

	"github.com/ent0n29/safemind/internal/conversation"
	"github.com/ent0n29/safemind/internal/policy"
)

// TurnRecord is the persisted, PII-redacted form of a conversation turn.
type TurnRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int       `json:"seq"`
	Role           string    `json:"role"`
	Action         string    `json:"action,omitempty"`
	Content        string    `json:"content"`
	PIIRedacted    bool      `json:"pii_redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists transcripts. Reads return turns in Seq order.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	SessionTranscript(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}

// RecordFromTurn redacts the turn text and tags the record with its session.
func RecordFromTurn(sessionID, conversationID string, t conversation.Turn) TurnRecord {
	content, redacted := policy.RedactPII(t.Text)
	action := ""
	if t.Role == conversation.RoleAssistant {
		action = string(t.Action)
	}
	return TurnRecord{
		ID:             t.ID,
		SessionID:      sessionID,
		ConversationID: conversationID,
		Seq:            t.Seq,
		Role:           string(t.Role),
		Action:         action,
		Content:        content,
		PIIRedacted:    redacted,
		CreatedAt:      t.CreatedAt,
	}
}
