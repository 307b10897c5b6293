// Package session provides the session data model and the concurrency-safe
// registry that serializes per-session phase advancement.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/scaffoldd/internal/plan"
	"github.com/fyrsmithlabs/scaffoldd/internal/stream"
)

// Sentinel errors for expected conditions.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionBusy       = errors.New("session is processing another request")
	ErrInvalidPhase      = errors.New("operation not valid in current session phase")
	ErrNotCompleted      = errors.New("session has not completed")
	ErrEmptyMessage      = errors.New("message content must not be empty")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// Status is one stage of the session lifecycle.
type Status string

const (
	StatusIntake           Status = "intake"
	StatusPlanning         Status = "planning"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusExecuting        Status = "executing"
	StatusDelivery         Status = "delivery"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions is the directed edge set of the phase state machine.
// Failed is reachable from every non-terminal state.
var transitions = map[Status][]Status{
	StatusIntake:           {StatusPlanning},
	StatusPlanning:         {StatusAwaitingApproval},
	StatusAwaitingApproval: {StatusExecuting, StatusPlanning},
	StatusExecuting:        {StatusDelivery},
	StatusDelivery:         {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Role identifies a message author.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one entry in the session's ordered conversation history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryResult is the final outcome of a completed session.
type DeliveryResult struct {
	Platform      string `json:"platform"`
	RepositoryURL string `json:"repository_url"`
	DefaultBranch string `json:"default_branch"`
	PipelineURL   string `json:"pipeline_url,omitempty"`
	BuildStatus   string `json:"build_status,omitempty"`
	EditorLink    string `json:"editor_link,omitempty"`
}

// Session is one conversation driving one scaffolding effort. Mutations
// happen inside Registry.Update, which serializes them per session; the
// internal lock additionally guards the fields so Registry.View can read
// a consistent snapshot while an update is still in flight.
type Session struct {
	mu sync.RWMutex

	ID             string
	Status         Status
	CreatedAt      time.Time
	LastActivityAt time.Time
	Messages       []Message
	Plan           *plan.ExecutionPlan
	Stream         *stream.Stream
	Result         *DeliveryResult
	FailureReason  string
}

// newSession creates a session in the intake phase.
func newSession(eventBuffer int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		Status:         StatusIntake,
		CreatedAt:      now,
		LastActivityAt: now,
		Stream:         stream.New(eventBuffer),
	}
}

// Transition moves the session to the target status, enforcing the state
// machine edges. An illegal transition leaves the session unchanged.
func (s *Session) Transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.touchLocked()
	return nil
}

// Fail moves the session to the failed terminal state, preserving the
// triggering error's message for display, and closes the event stream.
func (s *Session) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.Terminal() {
		return
	}
	s.Status = StatusFailed
	s.FailureReason = reason
	s.touchLocked()
	s.Stream.Close()
}

// AppendMessage appends to the conversation history and returns the
// stored message.
func (s *Session) AppendMessage(role Role, content string) Message {
	m := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, m)
	s.touchLocked()
	return m
}

// SetPlan records (or clears) the pending execution plan.
func (s *Session) SetPlan(p *plan.ExecutionPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plan = p
	s.touchLocked()
}

// SetResult records the final delivery outcome.
func (s *Session) SetResult(r *DeliveryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Result = r
	s.touchLocked()
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

func (s *Session) touchLocked() {
	s.LastActivityAt = time.Now().UTC()
}
