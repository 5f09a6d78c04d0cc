package session

import "time"

// CreateRequest defines payload for creating a new session. ReporterID is an
// optional pseudonymous handle; sessions are anonymous by default.
type CreateRequest struct {
	ReporterID string `json:"reporter_id"`
}

// CreateResponse returns created session metadata along with the greeting
// that opens the conversation.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	ReporterID      string    `json:"reporter_id,omitempty"`
	Status          Status    `json:"status"`
	Greeting        string    `json:"greeting"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
