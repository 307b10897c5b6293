package compliance

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/scaffoldd/internal/decision"
)

const securityPolicyBody = `# Security Policy

## Reporting a Vulnerability

Report suspected vulnerabilities privately to the platform team. Do not open
a public issue for security problems. You will receive an acknowledgement
within two business days.

## Supported Versions

Only the default branch receives security fixes.
`

// SecurityBaselineModule writes the organization security baseline:
// SECURITY.md and automated dependency update configuration. It always
// applies.
type SecurityBaselineModule struct{}

func (SecurityBaselineModule) ID() string   { return "security-baseline" }
func (SecurityBaselineModule) Name() string { return "Security Baseline" }
func (SecurityBaselineModule) Order() int   { return 10 }

func (SecurityBaselineModule) Applies(*ProjectContext) bool { return true }

func (m SecurityBaselineModule) Execute(ctx context.Context, pc *ProjectContext) (ModuleResult, error) {
	var result ModuleResult

	path, err := writeWorkspaceFile(pc.Workspace, "", "SECURITY.md", securityPolicyBody)
	if err != nil {
		return result, fmt.Errorf("failed to write security policy: %w", err)
	}
	result.FilesCreated = append(result.FilesCreated, path)

	updates, err := writeWorkspaceFile(pc.Workspace, ".github", "dependabot.yml", dependabotConfig(pc.Requirements.Language))
	if err != nil {
		return result, fmt.Errorf("failed to write dependency update config: %w", err)
	}
	result.FilesCreated = append(result.FilesCreated, updates)
	result.PipelineSteps = append(result.PipelineSteps, "dependency-audit")

	adr, err := writeDecision(pc, decision.Decision{
		Title:     "Adopt organization security baseline",
		Context:   fmt.Sprintf("New %s project %q scaffolded without any security posture.", pc.Requirements.Language, pc.Requirements.Name),
		Decision:  "Ship SECURITY.md and automated dependency updates from day one.",
		Rationale: "A disclosure channel and patched dependencies are the cheapest part of the baseline to establish at creation time.",
		Category:  "security",
		Alternatives: []decision.Alternative{
			{Option: "Add security posture after first release", Reason: "historically never happens; rejected"},
		},
		Consequences: []string{
			"Dependency update PRs arrive weekly from the start.",
			"Vulnerability reports have a documented channel.",
		},
		RelatedFiles: []string{path, updates},
	})
	if err != nil {
		return result, fmt.Errorf("failed to write ADR: %w", err)
	}
	result.FilesCreated = append(result.FilesCreated, adr)

	return result, nil
}

// dependabotConfig maps a project language onto its package ecosystem.
func dependabotConfig(language string) string {
	ecosystem := map[string]string{
		"go":         "gomod",
		"python":     "pip",
		"javascript": "npm",
		"typescript": "npm",
		"java":       "maven",
		"csharp":     "nuget",
		"rust":       "cargo",
	}[language]
	if ecosystem == "" {
		ecosystem = "github-actions"
	}
	return fmt.Sprintf(`version: 2
updates:
  - package-ecosystem: %q
    directory: "/"
    schedule:
      interval: "weekly"
`, ecosystem)
}
