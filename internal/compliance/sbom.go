package compliance

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/scaffoldd/internal/decision"
)

const sbomWorkflowBody = `name: sbom
on:
  push:
    branches: [main]
jobs:
  sbom:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - name: Generate SBOM
        uses: anchore/sbom-action@v0
        with:
          format: spdx-json
          output-file: sbom.spdx.json
      - name: Upload SBOM
        uses: actions/upload-artifact@v4
        with:
          name: sbom
          path: sbom.spdx.json
`

// SBOMModule wires software-bill-of-materials generation into the
// project's CI pipeline. It applies when the request asks for it or when
// organization policy requires SBOMs for every project.
type SBOMModule struct{}

func (SBOMModule) ID() string   { return "sbom" }
func (SBOMModule) Name() string { return "SBOM Generation" }
func (SBOMModule) Order() int   { return 20 }

func (SBOMModule) Applies(pc *ProjectContext) bool {
	return pc.RequireSBOM || pc.Requirements.HasFeature("sbom")
}

func (m SBOMModule) Execute(ctx context.Context, pc *ProjectContext) (ModuleResult, error) {
	var result ModuleResult

	path, err := writeWorkspaceFile(pc.Workspace, ".github/workflows", "sbom.yml", sbomWorkflowBody)
	if err != nil {
		return result, fmt.Errorf("failed to write SBOM workflow: %w", err)
	}
	result.FilesCreated = append(result.FilesCreated, path)
	result.PipelineSteps = append(result.PipelineSteps, "sbom-generation")

	reason := "the request asked for SBOM generation"
	if pc.RequireSBOM {
		reason = "organization policy requires an SBOM for every repository"
	}

	adr, err := writeDecision(pc, decision.Decision{
		Title:     "Generate SBOM on every default-branch build",
		Context:   fmt.Sprintf("Project %q needs a software bill of materials because %s.", pc.Requirements.Name, reason),
		Decision:  "Produce an SPDX JSON SBOM as a CI artifact on each push to the default branch.",
		Rationale: "SPDX JSON is the interchange format the organization's compliance tooling consumes.",
		Category:  "supply-chain",
		Alternatives: []decision.Alternative{
			{Option: "CycloneDX format", Reason: "downstream tooling standardized on SPDX"},
			{Option: "Generate at release time only", Reason: "leaves unreleased default-branch builds unaccounted for"},
		},
		Consequences: []string{
			"Every default-branch build publishes an sbom artifact.",
		},
		RelatedFiles: []string{path},
	})
	if err != nil {
		return result, fmt.Errorf("failed to write ADR: %w", err)
	}
	result.FilesCreated = append(result.FilesCreated, adr)

	return result, nil
}
