package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"intake to planning", StatusIntake, StatusPlanning, true},
		{"planning to awaiting approval", StatusPlanning, StatusAwaitingApproval, true},
		{"awaiting approval to executing", StatusAwaitingApproval, StatusExecuting, true},
		{"rejection returns to planning", StatusAwaitingApproval, StatusPlanning, true},
		{"executing to delivery", StatusExecuting, StatusDelivery, true},
		{"delivery to completed", StatusDelivery, StatusCompleted, true},
		{"failed from intake", StatusIntake, StatusFailed, true},
		{"failed from executing", StatusExecuting, StatusFailed, true},
		{"no skipping approval", StatusPlanning, StatusExecuting, false},
		{"no intake to executing", StatusIntake, StatusExecuting, false},
		{"no backwards from executing", StatusExecuting, StatusPlanning, false},
		{"completed is terminal", StatusCompleted, StatusPlanning, false},
		{"failed is terminal", StatusFailed, StatusIntake, false},
		{"failed cannot re-fail", StatusFailed, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusIntake.Terminal())
	assert.False(t, StatusExecuting.Terminal())
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	s := newSession(4)
	require.Equal(t, StatusIntake, s.Status)

	err := s.Transition(StatusExecuting)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusIntake, s.Status, "illegal transition must not mutate status")

	require.NoError(t, s.Transition(StatusPlanning))
	assert.Equal(t, StatusPlanning, s.Status)
}

func TestFailClosesStreamAndRecordsReason(t *testing.T) {
	s := newSession(4)
	s.Fail("template catalog unavailable")

	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "template catalog unavailable", s.FailureReason)
	assert.True(t, s.Stream.Closed())

	// Failing a terminal session is a no-op.
	s.Fail("second reason")
	assert.Equal(t, "template catalog unavailable", s.FailureReason)
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	s := newSession(4)
	first := s.AppendMessage(RoleUser, "build me a service")
	second := s.AppendMessage(RoleAgent, "working on it")

	require.Len(t, s.Messages, 2)
	assert.Equal(t, first.ID, s.Messages[0].ID)
	assert.Equal(t, second.ID, s.Messages[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, RoleUser, s.Messages[0].Role)
	assert.Equal(t, RoleAgent, s.Messages[1].Role)
}

func TestTouchAdvancesActivity(t *testing.T) {
	s := newSession(4)
	before := s.LastActivityAt
	time.Sleep(time.Millisecond)
	s.Touch()
	assert.True(t, s.LastActivityAt.After(before))
}
