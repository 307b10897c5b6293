package compliance

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/scaffoldd/internal/decision"
)

// BranchingModule documents the branching strategy and requests
// protection for the default branch. It always applies.
type BranchingModule struct{}

func (BranchingModule) ID() string   { return "branching-strategy" }
func (BranchingModule) Name() string { return "Branching Strategy" }
func (BranchingModule) Order() int   { return 30 }

func (BranchingModule) Applies(*ProjectContext) bool { return true }

func (m BranchingModule) Execute(ctx context.Context, pc *ProjectContext) (ModuleResult, error) {
	var result ModuleResult

	body := fmt.Sprintf(`# Branching Strategy

This repository uses trunk-based development.

- %q is the default branch and the only long-lived branch.
- All work happens on short-lived feature branches merged via pull request.
- The default branch is protected: direct pushes are rejected and at least
  one review is required.
- Releases are cut by tagging the default branch.
`, pc.DefaultBranch)

	path, err := writeWorkspaceFile(pc.Workspace, "docs", "branching.md", body)
	if err != nil {
		return result, fmt.Errorf("failed to write branching doc: %w", err)
	}
	result.FilesCreated = append(result.FilesCreated, path)
	result.SCMActions = append(result.SCMActions, SCMAction{
		Kind:   ActionBranchProtection,
		Target: pc.DefaultBranch,
		Detail: "require pull request reviews, forbid direct pushes",
	})

	adr, err := writeDecision(pc, decision.Decision{
		Title:     "Use trunk-based development",
		Context:   fmt.Sprintf("Project %q needs a documented branching model before the first contributor arrives.", pc.Requirements.Name),
		Decision:  fmt.Sprintf("Single protected default branch %q with short-lived feature branches.", pc.DefaultBranch),
		Rationale: "Trunk-based development keeps integration pain low for small teams and matches the organization's CI assumptions.",
		Category:  "process",
		Alternatives: []decision.Alternative{
			{Option: "GitFlow", Reason: "release/develop split adds ceremony this project does not need"},
		},
		Consequences: []string{
			"Branch protection must be applied once the repository exists.",
			"Long-running feature branches are discouraged by convention.",
		},
		RelatedFiles: []string{path},
	})
	if err != nil {
		return result, fmt.Errorf("failed to write ADR: %w", err)
	}
	result.FilesCreated = append(result.FilesCreated, adr)

	return result, nil
}

// DefaultModules returns the built-in module set in declaration order.
func DefaultModules() []Module {
	return []Module{
		SecurityBaselineModule{},
		SBOMModule{},
		BranchingModule{},
	}
}
