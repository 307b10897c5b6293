package plan

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scaffoldd/internal/compliance"
	"github.com/fyrsmithlabs/scaffoldd/internal/logging"
	"github.com/fyrsmithlabs/scaffoldd/internal/policy"
	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
	"github.com/fyrsmithlabs/scaffoldd/internal/template"
)

// staticEngine serves a fixed catalog without touching the filesystem.
type staticEngine struct {
	templates []template.Template
}

func (e *staticEngine) Match(requirements.ProjectRequirements) ([]template.Template, error) {
	return e.templates, nil
}

func (e *staticEngine) Select(req requirements.ProjectRequirements) (template.Template, error) {
	for _, t := range e.templates {
		if t.Language == req.Language {
			return t, nil
		}
	}
	return template.Template{}, template.ErrNoMatchingTemplate
}

func (e *staticEngine) Plan(tmpl template.Template, req requirements.ProjectRequirements) ([]template.PlannedFile, error) {
	var planned []template.PlannedFile
	for _, f := range tmpl.Files {
		group := f.Group
		if group == "" {
			group = "core"
		}
		planned = append(planned, template.PlannedFile{Path: f.Path, Group: group})
	}
	return planned, nil
}

func (e *staticEngine) Render(context.Context, afero.Fs, template.Template, requirements.ProjectRequirements, string) ([]string, error) {
	return nil, nil
}

func goTemplate() template.Template {
	return template.Template{
		ID:       "go-service",
		Language: "go",
		Version:  "1.0.0",
		Files: []template.FileSpec{
			{Path: "README.md", Group: "core"},
			{Path: ".gitignore", Group: "core"},
			{Path: "Dockerfile", Group: "container"},
		},
	}
}

func newTestBuilder(requireSBOM bool) *Builder {
	engine := &staticEngine{templates: []template.Template{goTemplate()}}
	policies := policy.NewEngine(policy.DefaultRules([]string{"go"})...)
	runner := compliance.NewRunner(logging.NewTestLogger().Logger, compliance.DefaultModules()...)
	return NewBuilder(engine, policies, runner, requireSBOM)
}

func goRequest() requirements.ProjectRequirements {
	return requirements.ProjectRequirements{
		Name:     "orders-service",
		Language: "go",
		Features: map[string]bool{},
	}
}

func TestBuildOrdersRenderStepsBeforeModules(t *testing.T) {
	p, err := newTestBuilder(true).Build(context.Background(), goRequest())
	require.NoError(t, err)

	require.Len(t, p.Steps, 5, "two file groups plus three modules")
	assert.Equal(t, OpRenderGroup, p.Steps[0].Op)
	assert.Equal(t, "core", p.Steps[0].FileGroup)
	assert.Equal(t, OpRenderGroup, p.Steps[1].Op)
	assert.Equal(t, "container", p.Steps[1].FileGroup)
	assert.Equal(t, OpRunModule, p.Steps[2].Op)
	assert.Equal(t, "security-baseline", p.Steps[2].ModuleID)
	assert.Equal(t, "sbom", p.Steps[3].ModuleID)
	assert.Equal(t, "branching-strategy", p.Steps[4].ModuleID)

	for i, s := range p.Steps {
		assert.Equal(t, i+1, s.Number)
	}
}

func TestBuildWithoutSBOMPolicy(t *testing.T) {
	p, err := newTestBuilder(false).Build(context.Background(), goRequest())
	require.NoError(t, err)

	for _, s := range p.Steps {
		assert.NotEqual(t, "sbom", s.ModuleID)
	}
}

func TestBuildPopulatesPlanFields(t *testing.T) {
	p, err := newTestBuilder(false).Build(context.Background(), goRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Equal(t, "go-service", p.Template.ID)
	assert.Len(t, p.PlannedFiles, 3)
	assert.Len(t, p.Verdicts, 4)
	assert.False(t, p.Blocked())
	assert.Contains(t, p.Summary, "orders-service")
	assert.Contains(t, p.Summary, "go-service")
}

func TestBuildBlockedByPolicyFailure(t *testing.T) {
	req := goRequest()
	req.Language = "cobol"
	engine := &staticEngine{templates: []template.Template{{ID: "cobol-svc", Language: "cobol", Files: goTemplate().Files}}}
	policies := policy.NewEngine(policy.DefaultRules([]string{"go"})...)
	runner := compliance.NewRunner(logging.NewTestLogger().Logger, compliance.DefaultModules()...)

	p, err := NewBuilder(engine, policies, runner, false).Build(context.Background(), req)
	require.NoError(t, err, "policy failures do not stop plan construction")

	assert.True(t, p.Blocked())
	assert.Contains(t, p.Summary, "plan cannot be approved")
	assert.Contains(t, p.Summary, "language-allow-list")
}

func TestBuildNoMatchingTemplate(t *testing.T) {
	req := goRequest()
	req.Language = "rust"

	_, err := newTestBuilder(false).Build(context.Background(), req)
	assert.ErrorIs(t, err, template.ErrNoMatchingTemplate)
}

func TestBuildHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestBuilder(false).Build(ctx, goRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummaryIncludesWarnings(t *testing.T) {
	// An empty allow-list produces a warning verdict.
	engine := &staticEngine{templates: []template.Template{goTemplate()}}
	policies := policy.NewEngine(policy.DefaultRules(nil)...)
	runner := compliance.NewRunner(logging.NewTestLogger().Logger, compliance.DefaultModules()...)

	p, err := NewBuilder(engine, policies, runner, false).Build(context.Background(), goRequest())
	require.NoError(t, err)
	assert.False(t, p.Blocked())
	assert.Contains(t, p.Summary, "Policy warnings:")
}
