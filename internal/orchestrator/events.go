package orchestrator

import (
	"github.com/fyrsmithlabs/scaffoldd/internal/compliance"
	"github.com/fyrsmithlabs/scaffoldd/internal/policy"
	"github.com/fyrsmithlabs/scaffoldd/internal/session"
	"github.com/fyrsmithlabs/scaffoldd/internal/stream"
)

// PhasePayload reports a phase transition.
type PhasePayload struct {
	From session.Status `json:"from"`
	To   session.Status `json:"to"`
}

// PlanPayload announces a plan awaiting approval.
type PlanPayload struct {
	PlanID   string           `json:"plan_id"`
	Summary  string           `json:"summary"`
	Verdicts []policy.Verdict `json:"verdicts"`
}

// StepPayload reports step progress.
type StepPayload struct {
	Number      int      `json:"number"`
	Description string   `json:"description"`
	Status      string   `json:"status"` // running, success, failure, skipped
	Error       string   `json:"error,omitempty"`
	Files       []string `json:"files,omitempty"`
}

// ErrorPayload carries a terminal error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// emit publishes an event on the session stream, counting it. Publish
// failures only happen on closed streams and are not worth surfacing to
// the caller.
func (o *Orchestrator) emit(s *session.Session, t stream.Type, payload any) {
	if _, err := s.Stream.Publish(t, payload); err == nil {
		o.metrics.EventsEmitted.Inc()
	}
}

// transition moves the session and announces the phase change.
func (o *Orchestrator) transition(s *session.Session, to session.Status) error {
	from := s.Status
	if err := s.Transition(to); err != nil {
		return err
	}
	o.emit(s, stream.TypePhaseChanged, PhasePayload{From: from, To: to})
	return nil
}

// fail moves the session to the failed terminal state, emitting the error
// event before the stream closes.
func (o *Orchestrator) fail(s *session.Session, reason string) {
	o.emit(s, stream.TypeError, ErrorPayload{Message: reason})
	o.emit(s, stream.TypePhaseChanged, PhasePayload{From: s.Status, To: session.StatusFailed})
	s.Fail(reason)
	o.metrics.DeliveryTotal.WithLabelValues("failed").Inc()
}

// moduleResultPayload is the event shape for one module outcome.
type moduleResultPayload struct {
	compliance.ModuleResult
	ModuleName string `json:"module_name"`
}
