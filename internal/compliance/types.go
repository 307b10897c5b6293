// Package compliance runs the ordered pipeline of compliance modules
// (security baseline, SBOM wiring, branching-strategy docs) against a
// session workspace. Modules run sequentially: they share the workspace
// and append to the same decision log, so ordering and isolation matter
// more than throughput.
package compliance

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/fyrsmithlabs/scaffoldd/internal/decision"
	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
)

// ProjectContext is the shared, mutable context every module receives.
type ProjectContext struct {
	Workspace     afero.Fs
	WorkspacePath string
	Requirements  requirements.ProjectRequirements
	Platform      string
	DefaultBranch string
	Decisions     *decision.Log

	// RequireSBOM is the organization-level SBOM policy; it forces the
	// SBOM module on even when the request did not ask for it.
	RequireSBOM bool
}

// ActionBranchProtection asks the provider to protect the target branch
// behind pull request reviews.
const ActionBranchProtection = "branch-protection"

// SCMAction is a source-control configuration action a module requests.
// The delivery phase applies it against the provider once the workspace
// has been pushed and the target branch exists.
type SCMAction struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Detail string `json:"detail,omitempty"`
}

// ModuleResult is the immutable outcome of one module execution.
type ModuleResult struct {
	ModuleID      string        `json:"module_id"`
	Success       bool          `json:"success"`
	FilesCreated  []string      `json:"files_created,omitempty"`
	FilesModified []string      `json:"files_modified,omitempty"`
	PipelineSteps []string      `json:"pipeline_steps,omitempty"`
	SCMActions    []SCMAction   `json:"scm_actions,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Module is one self-contained compliance unit.
type Module interface {
	// ID is the stable module identifier.
	ID() string

	// Name is the display name.
	Name() string

	// Order determines pipeline position; lower runs first. Ties break
	// by ID lexicographically.
	Order() int

	// Applies reports whether the module should run for this project.
	Applies(pc *ProjectContext) bool

	// Execute performs the module's work. A returned error is converted
	// into a failed ModuleResult by the runner; it never aborts the
	// pipeline by itself.
	Execute(ctx context.Context, pc *ProjectContext) (ModuleResult, error)
}

// writeWorkspaceFile creates a file (and parent directories) in the
// workspace and returns its path for the module result.
func writeWorkspaceFile(fs afero.Fs, dir, name, content string) (string, error) {
	path := name
	if dir != "" {
		path = dir + "/" + name
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// writeDecision appends a decision and materializes it as an ADR file
// under docs/adr/.
func writeDecision(pc *ProjectContext, d decision.Decision) (string, error) {
	recorded := pc.Decisions.Append(d)
	return writeWorkspaceFile(pc.Workspace, "docs/adr", decision.Filename(recorded), decision.RenderMarkdown(recorded))
}
