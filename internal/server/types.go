package server

import (
	"time"

	"github.com/fyrsmithlabs/scaffoldd/internal/session"
)

// CreateSessionResponse is the response body for POST /api/v1/sessions.
type CreateSessionResponse struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// SendMessageRequest is the request body for POST /api/v1/sessions/:id/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// MessageResponse is one conversation message.
type MessageResponse struct {
	ID        string       `json:"id"`
	Role      session.Role `json:"role"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

// ApprovalRequest is the request body for POST /api/v1/sessions/:id/approval.
type ApprovalRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/sessions/:id/status.
type StatusResponse struct {
	SessionID      string         `json:"session_id"`
	Status         session.Status `json:"status"`
	MessageCount   int            `json:"message_count"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	FailureReason  string         `json:"failure_reason,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string   `json:"status"`
	Service  string   `json:"service"`
	Warnings []string `json:"warnings,omitempty"`
}

// toMessageResponse maps a stored message onto the wire shape.
func toMessageResponse(m session.Message) MessageResponse {
	return MessageResponse{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
}
