// Package orchestrator owns the per-session scaffolding lifecycle: the
// Intake -> Planning -> AwaitingApproval -> Executing -> Delivery ->
// Completed phase machine, the plan approval gate, the compliance module
// pipeline, and the progress event stream.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scaffoldd/internal/compliance"
	"github.com/fyrsmithlabs/scaffoldd/internal/metrics"
	"github.com/fyrsmithlabs/scaffoldd/internal/plan"
	"github.com/fyrsmithlabs/scaffoldd/internal/policy"
	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
	"github.com/fyrsmithlabs/scaffoldd/internal/scm"
	"github.com/fyrsmithlabs/scaffoldd/internal/session"
	"github.com/fyrsmithlabs/scaffoldd/internal/stream"
	"github.com/fyrsmithlabs/scaffoldd/internal/template"
	"github.com/fyrsmithlabs/scaffoldd/internal/workspace"
)

// Config tunes orchestration behavior.
type Config struct {
	DefaultBranch string
	RequireSBOM   bool
	// CriticalModules lists compliance module IDs whose failure fails the
	// whole session instead of rolling into the delivery summary.
	CriticalModules []string
	Polling         scm.RetryConfig
}

// Orchestrator drives one session's lifecycle. It is safe for concurrent
// use across sessions; within a session the registry serializes calls.
type Orchestrator struct {
	engine     template.Engine
	builder    *plan.Builder
	runner     *compliance.Runner
	modules    map[string]compliance.Module
	provider   scm.Provider
	workspaces *workspace.Manager
	extractor  requirements.Extractor
	publisher  RepoPublisher
	cfg        Config
	critical   map[string]bool
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New creates an orchestrator over the given collaborators.
func New(
	engine template.Engine,
	builder *plan.Builder,
	runner *compliance.Runner,
	modules []compliance.Module,
	provider scm.Provider,
	workspaces *workspace.Manager,
	extractor requirements.Extractor,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	byID := make(map[string]compliance.Module, len(modules))
	for _, mod := range modules {
		byID[mod.ID()] = mod
	}
	critical := make(map[string]bool, len(cfg.CriticalModules))
	for _, id := range cfg.CriticalModules {
		critical[id] = true
	}
	return &Orchestrator{
		engine:     engine,
		builder:    builder,
		runner:     runner,
		modules:    byID,
		provider:   provider,
		workspaces: workspaces,
		extractor:  extractor,
		cfg:        cfg,
		critical:   critical,
		metrics:    m,
		logger:     logger,
	}
}

// HandleMessage processes one user message for the session and returns
// the agent's reply. The caller holds the session's registry lock.
func (o *Orchestrator) HandleMessage(ctx context.Context, s *session.Session, text string) (session.Message, error) {
	if strings.TrimSpace(text) == "" {
		return session.Message{}, session.ErrEmptyMessage
	}
	if s.Status.Terminal() {
		return session.Message{}, fmt.Errorf("%w: session is %s", session.ErrInvalidPhase, s.Status)
	}

	s.AppendMessage(session.RoleUser, text)

	switch s.Status {
	case session.StatusIntake:
		if err := o.transition(s, session.StatusPlanning); err != nil {
			return session.Message{}, err
		}
		return o.buildPlan(ctx, s)

	case session.StatusPlanning:
		return o.buildPlan(ctx, s)

	case session.StatusAwaitingApproval:
		reply := "A plan is awaiting your approval. Approve it to start execution, or reject it with feedback to revise."
		return s.AppendMessage(session.RoleAgent, reply), nil

	default:
		// Executing or Delivery: the session is busy; report progress
		// without touching the lifecycle.
		reply := fmt.Sprintf("Scaffolding is in progress (phase %s); follow the event stream for live updates.", s.Status)
		return s.AppendMessage(session.RoleAgent, reply), nil
	}
}

// HandleApproval processes an approval or rejection of the current plan.
// It is valid only while the session awaits approval; any other phase
// returns ErrInvalidPhase without mutating the session. An approval runs
// the whole execution synchronously and returns the delivery reply.
func (o *Orchestrator) HandleApproval(ctx context.Context, s *session.Session, approved bool, feedback string) (session.Message, error) {
	if s.Status != session.StatusAwaitingApproval {
		return session.Message{}, fmt.Errorf("%w: approval requires awaiting_approval, session is %s", session.ErrInvalidPhase, s.Status)
	}

	if !approved {
		// A rejection discards the current plan; the new one is built
		// from the conversation including the feedback.
		s.SetPlan(nil)
		if err := o.transition(s, session.StatusPlanning); err != nil {
			return session.Message{}, err
		}
		if strings.TrimSpace(feedback) != "" {
			s.AppendMessage(session.RoleUser, feedback)
		}
		return o.buildPlan(ctx, s)
	}

	if err := o.transition(s, session.StatusExecuting); err != nil {
		return session.Message{}, err
	}
	return o.execute(ctx, s)
}

// buildPlan extracts requirements from the conversation so far, builds a
// fresh plan, and either offers it for approval or reports why it cannot
// be approved yet. Plan problems are ordinary replies, not faults.
func (o *Orchestrator) buildPlan(ctx context.Context, s *session.Session) (session.Message, error) {
	req, err := o.extractor.Extract(ctx, userTranscript(s))
	if err != nil {
		reply := fmt.Sprintf("I could not derive project requirements yet: %v. Tell me the project name and language.", err)
		return s.AppendMessage(session.RoleAgent, reply), nil
	}

	p, err := o.builder.Build(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			o.fail(s, "plan building canceled: "+ctx.Err().Error())
			return session.Message{}, ctx.Err()
		}
		reply := fmt.Sprintf("I could not assemble a plan: %v. Adjust the request and try again.", err)
		return s.AppendMessage(session.RoleAgent, reply), nil
	}

	if p.Blocked() {
		// Failing verdicts keep the session in planning; the verdicts are
		// surfaced so the user can adjust the request.
		o.logger.Info("plan blocked by policy",
			zap.String("session_id", s.ID),
			zap.Int("failures", len(policy.Failures(p.Verdicts))))
		return s.AppendMessage(session.RoleAgent, p.Summary), nil
	}

	s.SetPlan(p)
	if err := o.transition(s, session.StatusAwaitingApproval); err != nil {
		return session.Message{}, err
	}
	o.emit(s, stream.TypePlanReady, PlanPayload{PlanID: p.ID, Summary: p.Summary, Verdicts: p.Verdicts})

	reply := p.Summary + "\n\nApprove this plan to start execution, or reject it with feedback."
	return s.AppendMessage(session.RoleAgent, reply), nil
}

// userTranscript joins all user messages so replanning after rejection
// incorporates the feedback alongside the original request.
func userTranscript(s *session.Session) string {
	var parts []string
	for _, m := range s.Messages {
		if m.Role == session.RoleUser {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}
