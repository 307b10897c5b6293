// Package plan builds the immutable execution plan a session must approve
// before anything is written: requirements, selected template, planned
// files, policy verdicts and the ordered step list.
package plan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/scaffoldd/internal/compliance"
	"github.com/fyrsmithlabs/scaffoldd/internal/policy"
	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
	"github.com/fyrsmithlabs/scaffoldd/internal/template"
)

// OpKind identifies what a step executes.
type OpKind string

const (
	// OpRenderGroup renders one template file group into the workspace.
	OpRenderGroup OpKind = "render_group"

	// OpRunModule runs one compliance module.
	OpRunModule OpKind = "run_module"
)

// Step is one unit of execution work. Step numbers increase strictly
// within a plan.
type Step struct {
	Number      int    `json:"number"`
	Description string `json:"description"`
	Op          OpKind `json:"op"`
	FileGroup   string `json:"file_group,omitempty"`
	ModuleID    string `json:"module_id,omitempty"`
}

// ExecutionPlan is an immutable snapshot of what will be built. A rejected
// plan is discarded and a new one is built; plans are never mutated after
// construction.
type ExecutionPlan struct {
	ID           string                           `json:"id"`
	Requirements requirements.ProjectRequirements `json:"requirements"`
	Template     template.Template                `json:"template"`
	PlannedFiles []template.PlannedFile           `json:"planned_files"`
	Verdicts     []policy.Verdict                 `json:"verdicts"`
	Steps        []Step                           `json:"steps"`
	Summary      string                           `json:"summary"`
	CreatedAt    time.Time                        `json:"created_at"`
}

// Blocked reports whether any policy verdict forbids approval.
func (p *ExecutionPlan) Blocked() bool {
	return policy.AnyFailed(p.Verdicts)
}

// Builder assembles execution plans from requirements.
type Builder struct {
	engine      template.Engine
	policies    *policy.Engine
	runner      *compliance.Runner
	requireSBOM bool
}

// NewBuilder creates a plan builder over the given collaborators.
func NewBuilder(engine template.Engine, policies *policy.Engine, runner *compliance.Runner, requireSBOM bool) *Builder {
	return &Builder{engine: engine, policies: policies, runner: runner, requireSBOM: requireSBOM}
}

// Build selects the best template, dry-runs its file plan, evaluates
// policy, and assembles the ordered step list. Policy failures do not
// stop the build: the caller inspects Blocked() and keeps the session in
// planning when any verdict failed.
func (b *Builder) Build(ctx context.Context, req requirements.ProjectRequirements) (*ExecutionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmpl, err := b.engine.Select(req)
	if err != nil {
		return nil, fmt.Errorf("template selection failed: %w", err)
	}

	files, err := b.engine.Plan(tmpl, req)
	if err != nil {
		return nil, fmt.Errorf("file planning failed: %w", err)
	}

	verdicts := b.policies.Evaluate(policy.Input{
		Requirements: req,
		Template:     tmpl,
		PlannedFiles: files,
	})

	// Module applicability depends only on requirements and org policy,
	// so a workspace-less context is enough at planning time.
	modules := b.runner.Applicable(&compliance.ProjectContext{
		Requirements: req,
		RequireSBOM:  b.requireSBOM,
	})

	var steps []Step
	for _, group := range tmpl.FileGroups() {
		steps = append(steps, Step{
			Number:      len(steps) + 1,
			Description: fmt.Sprintf("Render %s files from template %s", group, tmpl.ID),
			Op:          OpRenderGroup,
			FileGroup:   group,
		})
	}
	for _, m := range modules {
		steps = append(steps, Step{
			Number:      len(steps) + 1,
			Description: fmt.Sprintf("Apply compliance module: %s", m.Name()),
			Op:          OpRunModule,
			ModuleID:    m.ID(),
		})
	}

	p := &ExecutionPlan{
		ID:           uuid.NewString(),
		Requirements: req,
		Template:     tmpl,
		PlannedFiles: files,
		Verdicts:     verdicts,
		Steps:        steps,
		CreatedAt:    time.Now().UTC(),
	}
	p.Summary = summarize(p)
	return p, nil
}

// summarize produces the human-readable plan summary shown for approval.
func summarize(p *ExecutionPlan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scaffold %s (%s", p.Requirements.Name, p.Requirements.Language)
	if p.Requirements.Framework != "" {
		fmt.Fprintf(&sb, "/%s", p.Requirements.Framework)
	}
	fmt.Fprintf(&sb, ") from template %s v%s: %d files in %d steps.",
		p.Template.ID, p.Template.Version, len(p.PlannedFiles), len(p.Steps))

	var warnings, failures []string
	for _, v := range p.Verdicts {
		switch v.Outcome {
		case policy.OutcomeWarning:
			warnings = append(warnings, fmt.Sprintf("%s: %s", v.RuleID, v.Message))
		case policy.OutcomeFail:
			failures = append(failures, fmt.Sprintf("%s: %s", v.RuleID, v.Message))
		}
	}
	if len(failures) > 0 {
		fmt.Fprintf(&sb, "\nPolicy failures (plan cannot be approved):\n- %s", strings.Join(failures, "\n- "))
	}
	if len(warnings) > 0 {
		fmt.Fprintf(&sb, "\nPolicy warnings:\n- %s", strings.Join(warnings, "\n- "))
	}
	return sb.String()
}
