package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scaffoldd/internal/compliance"
	"github.com/fyrsmithlabs/scaffoldd/internal/decision"
	"github.com/fyrsmithlabs/scaffoldd/internal/plan"
	"github.com/fyrsmithlabs/scaffoldd/internal/scm"
	"github.com/fyrsmithlabs/scaffoldd/internal/session"
	"github.com/fyrsmithlabs/scaffoldd/internal/stream"
)

// RepoPublisher pushes a scaffolded workspace to the remote repository.
// The production implementation wraps go-git; tests inject a fake.
type RepoPublisher interface {
	Publish(ctx context.Context, path string, repo *scm.Repository, auth transport.AuthMethod) (commit string, err error)
}

// SetPublisher installs the repository publisher. It must be set before
// the first approval is processed.
func (o *Orchestrator) SetPublisher(p RepoPublisher) { o.publisher = p }

// execute walks the approved plan's steps in order, publishes the result,
// and assembles the delivery. Individual step failures are recorded and
// execution continues; repository creation failure and cancellation are
// non-recoverable.
func (o *Orchestrator) execute(ctx context.Context, s *session.Session) (session.Message, error) {
	p := s.Plan

	wsPath, wsFs, err := o.workspaces.Create(s.ID)
	if err != nil {
		o.fail(s, "workspace allocation failed: "+err.Error())
		return session.Message{}, fmt.Errorf("workspace allocation failed: %w", err)
	}

	// Repository creation is the one initialization step whose failure is
	// non-recoverable: without a remote there is nothing to deliver.
	repo, err := o.provider.CreateRepository(ctx, p.Requirements.Name, o.cfg.DefaultBranch)
	if err != nil {
		o.fail(s, "repository creation failed: "+err.Error())
		return session.Message{}, fmt.Errorf("repository creation failed: %w", err)
	}

	pc := &compliance.ProjectContext{
		Workspace:     wsFs,
		WorkspacePath: wsPath,
		Requirements:  p.Requirements,
		Platform:      o.provider.Platform(),
		DefaultBranch: o.cfg.DefaultBranch,
		Decisions:     decision.NewLog(),
		RequireSBOM:   o.cfg.RequireSBOM,
	}

	failedSteps := 0
	var scmActions []compliance.SCMAction
	for i, step := range p.Steps {
		if ctx.Err() != nil {
			o.skipRemaining(s, p.Steps[i:])
			o.fail(s, "execution canceled: "+ctx.Err().Error())
			return session.Message{}, ctx.Err()
		}

		o.emit(s, stream.TypeStepStarted, StepPayload{
			Number:      step.Number,
			Description: step.Description,
			Status:      "running",
		})

		files, actions, stepErr := o.runStep(ctx, s, step, pc)
		scmActions = append(scmActions, actions...)
		outcome := "success"
		payload := StepPayload{Number: step.Number, Description: step.Description, Status: "success", Files: files}
		if stepErr != nil {
			failedSteps++
			outcome = "failure"
			payload.Status = "failure"
			payload.Error = stepErr.Error()
			o.logger.Warn("step failed",
				zap.String("session_id", s.ID),
				zap.Int("step", step.Number),
				zap.Error(stepErr))
		}
		o.metrics.StepsExecuted.WithLabelValues(outcome).Inc()
		o.emit(s, stream.TypeStepFinished, payload)

		if stepErr != nil && step.Op == plan.OpRunModule && o.critical[step.ModuleID] {
			o.skipRemaining(s, p.Steps[i+1:])
			o.fail(s, fmt.Sprintf("critical compliance module %s failed: %v", step.ModuleID, stepErr))
			return session.Message{}, fmt.Errorf("critical compliance module %s failed: %w", step.ModuleID, stepErr)
		}
	}

	buildStatus, pipelineURL, unapplied := o.publishAndTrigger(ctx, s, wsPath, repo, scmActions)
	if ctx.Err() != nil {
		o.fail(s, "execution canceled: "+ctx.Err().Error())
		return session.Message{}, ctx.Err()
	}

	if err := o.transition(s, session.StatusDelivery); err != nil {
		return session.Message{}, err
	}

	result := &session.DeliveryResult{
		Platform:      o.provider.Platform(),
		RepositoryURL: repo.URL,
		DefaultBranch: repo.DefaultBranch,
		PipelineURL:   pipelineURL,
		BuildStatus:   buildStatus,
		EditorLink:    editorLink(repo.CloneURL),
	}
	s.SetResult(result)

	if err := o.transition(s, session.StatusCompleted); err != nil {
		return session.Message{}, err
	}
	o.emit(s, stream.TypeDelivery, result)
	s.Stream.Close()
	o.metrics.DeliveryTotal.WithLabelValues("completed").Inc()

	reply := fmt.Sprintf("Scaffolding complete: %s is available at %s (default branch %s). Pipeline: %s.",
		p.Requirements.Name, repo.URL, repo.DefaultBranch, buildStatus)
	if failedSteps > 0 {
		reply += fmt.Sprintf(" %d step(s) reported problems; see the delivery events and ADR log for details.", failedSteps)
	}
	if unapplied > 0 {
		reply += fmt.Sprintf(" %d repository setting(s) requested by compliance modules could not be applied.", unapplied)
	}
	if entries := pc.Decisions.Entries(); len(entries) > 0 {
		titles := make([]string, len(entries))
		for i, d := range entries {
			titles[i] = d.Title
		}
		reply += fmt.Sprintf(" Recorded %d architecture decision(s) under docs/adr: %s.",
			len(entries), strings.Join(titles, "; "))
	}
	return s.AppendMessage(session.RoleAgent, reply), nil
}

// skipRemaining reports steps that will never run because execution
// aborted before reaching them.
func (o *Orchestrator) skipRemaining(s *session.Session, steps []plan.Step) {
	for _, step := range steps {
		o.metrics.StepsExecuted.WithLabelValues("skipped").Inc()
		o.emit(s, stream.TypeStepFinished, StepPayload{
			Number:      step.Number,
			Description: step.Description,
			Status:      "skipped",
		})
	}
}

// runStep executes one plan step and returns the files it produced,
// plus any repository actions the step requests from the SCM provider.
func (o *Orchestrator) runStep(ctx context.Context, s *session.Session, step plan.Step, pc *compliance.ProjectContext) ([]string, []compliance.SCMAction, error) {
	switch step.Op {
	case plan.OpRenderGroup:
		files, err := o.engine.Render(ctx, pc.Workspace, s.Plan.Template, s.Plan.Requirements, step.FileGroup)
		return files, nil, err

	case plan.OpRunModule:
		mod, ok := o.modules[step.ModuleID]
		if !ok {
			return nil, nil, fmt.Errorf("unknown compliance module %q", step.ModuleID)
		}
		result := o.runner.RunModule(ctx, mod, pc)
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		o.metrics.ModuleRuns.WithLabelValues(result.ModuleID, outcome).Inc()
		o.emit(s, stream.TypeModuleResult, moduleResultPayload{ModuleResult: result, ModuleName: mod.Name()})
		if !result.Success {
			return result.FilesCreated, nil, fmt.Errorf("module %s: %s", result.ModuleID, result.Error)
		}
		files := append([]string{}, result.FilesCreated...)
		return append(files, result.FilesModified...), result.SCMActions, nil

	default:
		return nil, nil, fmt.Errorf("unknown step operation %q", step.Op)
	}
}

// publishAndTrigger commits and pushes the workspace, applies the
// repository actions collected from compliance modules, then triggers
// the CI pipeline and polls for its status. Failures here degrade the
// delivery summary rather than failing the session.
func (o *Orchestrator) publishAndTrigger(ctx context.Context, s *session.Session, wsPath string, repo *scm.Repository, actions []compliance.SCMAction) (buildStatus, pipelineURL string, unapplied int) {
	if o.publisher == nil {
		return "not-published", "", len(actions)
	}

	commit, err := o.publisher.Publish(ctx, wsPath, repo, o.provider.AuthMethod())
	if err != nil {
		o.logger.Warn("failed to publish workspace",
			zap.String("session_id", s.ID),
			zap.Error(err))
		return "push-failed", "", len(actions)
	}
	o.logger.Info("workspace published",
		zap.String("session_id", s.ID),
		zap.String("commit", commit),
		zap.String("repository", repo.URL))

	// Branch protection and friends need the pushed branch to exist, so
	// actions apply only after a successful publish.
	unapplied = o.applySCMActions(ctx, s, repo, actions)

	run, err := o.provider.TriggerPipeline(ctx, repo)
	if err != nil {
		o.logger.Warn("failed to trigger pipeline",
			zap.String("session_id", s.ID),
			zap.Error(err))
		return "not-triggered", "", unapplied
	}

	polled, err := scm.WaitForRun(ctx, o.provider, repo, run.ID, o.cfg.Polling, o.logger)
	if err != nil {
		if ctx.Err() != nil {
			return "unknown", run.URL, unapplied
		}
		o.logger.Warn("pipeline status polling gave up",
			zap.String("session_id", s.ID),
			zap.Error(err))
		return "unknown", run.URL, unapplied
	}
	return string(polled.Status), polled.URL, unapplied
}

// applySCMActions forwards module-requested repository settings to the
// SCM provider and returns how many could not be applied.
func (o *Orchestrator) applySCMActions(ctx context.Context, s *session.Session, repo *scm.Repository, actions []compliance.SCMAction) (unapplied int) {
	for _, a := range actions {
		var err error
		switch a.Kind {
		case compliance.ActionBranchProtection:
			err = o.provider.ApplyBranchProtection(ctx, repo, a.Target)
		default:
			err = fmt.Errorf("unsupported repository action kind %q", a.Kind)
		}
		if err != nil {
			unapplied++
			o.logger.Warn("failed to apply repository action",
				zap.String("session_id", s.ID),
				zap.String("kind", a.Kind),
				zap.String("target", a.Target),
				zap.Error(err))
			continue
		}
		o.logger.Info("applied repository action",
			zap.String("session_id", s.ID),
			zap.String("kind", a.Kind),
			zap.String("target", a.Target))
	}
	return unapplied
}

// editorLink builds the deep link that opens the repository in the
// developer's editor with a clone prompt.
func editorLink(cloneURL string) string {
	if cloneURL == "" {
		return ""
	}
	return "vscode://vscode.git/clone?url=" + url.QueryEscape(cloneURL)
}
