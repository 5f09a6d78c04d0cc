package conversation

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Action is the triage signal decoded from an assistant reply.
type Action string

const (
	ActionNone          Action = "none"
	ActionSuggestReport Action = "suggest_report"
	ActionEmergency     Action = "emergency"
)

// Turn is one immutable message in a conversation transcript.
type Turn struct {
	ID   string `json:"id"`
	Seq  int    `json:"seq"`
	Role Role   `json:"role"`
	Text string `json:"text"`
	// Action is only meaningful on assistant turns.
	Action Action `json:"action,omitempty"`
	// RelatedContext carries the user text that triggered a non-none action.
	RelatedContext string    `json:"related_context,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
