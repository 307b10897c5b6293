package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scaffoldd/internal/compliance"
	"github.com/fyrsmithlabs/scaffoldd/internal/config"
	"github.com/fyrsmithlabs/scaffoldd/internal/logging"
	"github.com/fyrsmithlabs/scaffoldd/internal/metrics"
	"github.com/fyrsmithlabs/scaffoldd/internal/orchestrator"
	"github.com/fyrsmithlabs/scaffoldd/internal/plan"
	"github.com/fyrsmithlabs/scaffoldd/internal/policy"
	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
	"github.com/fyrsmithlabs/scaffoldd/internal/scm"
	"github.com/fyrsmithlabs/scaffoldd/internal/session"
	"github.com/fyrsmithlabs/scaffoldd/internal/template"
	"github.com/fyrsmithlabs/scaffoldd/internal/workspace"
)

// memEngine serves one template and renders it into memory.
type memEngine struct {
	tmpl template.Template
}

func (e *memEngine) Match(requirements.ProjectRequirements) ([]template.Template, error) {
	return []template.Template{e.tmpl}, nil
}

func (e *memEngine) Select(req requirements.ProjectRequirements) (template.Template, error) {
	if req.Language != e.tmpl.Language {
		return template.Template{}, template.ErrNoMatchingTemplate
	}
	return e.tmpl, nil
}

func (e *memEngine) Plan(tmpl template.Template, _ requirements.ProjectRequirements) ([]template.PlannedFile, error) {
	var planned []template.PlannedFile
	for _, f := range tmpl.Files {
		planned = append(planned, template.PlannedFile{Path: f.Path, Group: f.Group})
	}
	return planned, nil
}

func (e *memEngine) Render(_ context.Context, fs afero.Fs, tmpl template.Template, _ requirements.ProjectRequirements, group string) ([]string, error) {
	var written []string
	for _, f := range tmpl.Files {
		if f.Group != group {
			continue
		}
		if err := afero.WriteFile(fs, f.Path, []byte(f.Content), 0o644); err != nil {
			return written, err
		}
		written = append(written, f.Path)
	}
	return written, nil
}

// memProvider fakes the SCM platform with instant successes.
type memProvider struct{}

func (memProvider) Platform() string { return "github" }

func (memProvider) CreateRepository(_ context.Context, name, defaultBranch string) (*scm.Repository, error) {
	return &scm.Repository{
		Name:          name,
		URL:           "https://github.com/acme/" + name,
		CloneURL:      "https://github.com/acme/" + name + ".git",
		DefaultBranch: defaultBranch,
	}, nil
}

func (memProvider) TriggerPipeline(_ context.Context, repo *scm.Repository) (*scm.PipelineRun, error) {
	return &scm.PipelineRun{ID: 1, URL: repo.URL + "/actions/runs/1", Status: scm.RunStatusPending}, nil
}

func (memProvider) GetPipelineRun(_ context.Context, repo *scm.Repository, id int64) (*scm.PipelineRun, error) {
	return &scm.PipelineRun{ID: id, URL: repo.URL + "/actions/runs/1", Status: scm.RunStatusSucceeded}, nil
}

func (memProvider) ApplyBranchProtection(context.Context, *scm.Repository, string) error {
	return nil
}

func (memProvider) AuthMethod() transport.AuthMethod { return nil }

// gatedProvider parks repository creation until released, keeping a
// session in the executing phase for as long as a test needs.
type gatedProvider struct {
	memProvider
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProvider) CreateRepository(ctx context.Context, name, defaultBranch string) (*scm.Repository, error) {
	close(g.entered)
	<-g.release
	return g.memProvider.CreateRepository(ctx, name, defaultBranch)
}

type memPublisher struct{}

func (memPublisher) Publish(context.Context, string, *scm.Repository, transport.AuthMethod) (string, error) {
	return "abc1234", nil
}

func newTestServer(t *testing.T, mutateCfg func(*config.Config)) *Server {
	t.Helper()
	return newTestServerWith(t, mutateCfg, memProvider{})
}

func newTestServerWith(t *testing.T, mutateCfg func(*config.Config), provider scm.Provider) *Server {
	t.Helper()
	logger := logging.NewTestLogger().Logger

	cfg := config.NewDefaultConfig()
	cfg.SCM.Token = "test-token"
	cfg.SCM.Organization = "acme"
	if mutateCfg != nil {
		mutateCfg(cfg)
	}

	engine := &memEngine{tmpl: template.Template{
		ID:       "go-service",
		Language: "go",
		Version:  "1.0.0",
		Files: []template.FileSpec{
			{Path: "README.md", Group: "core", Content: "# readme"},
			{Path: ".gitignore", Group: "core", Content: "bin/"},
		},
	}}
	modules := compliance.DefaultModules()
	runner := compliance.NewRunner(logger, modules...)
	builder := plan.NewBuilder(engine, policy.NewEngine(policy.DefaultRules(nil)...), runner, false)

	orch := orchestrator.New(
		engine,
		builder,
		runner,
		modules,
		provider,
		workspace.NewManager(afero.NewMemMapFs(), "workspaces"),
		requirements.NewHeuristicExtractor(),
		orchestrator.Config{
			DefaultBranch: "main",
			Polling:       scm.RetryConfig{MaxAttempts: 2, InitialBackoff: 1, MaxBackoff: 1},
		},
		metrics.NewTest(),
		logger,
	)
	orch.SetPublisher(memPublisher{})

	reg := prometheus.NewRegistry()
	srv, err := New(session.NewRegistry(64, logger), orch, cfg, metrics.New(reg), reg, logger)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echoContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createSession(t *testing.T, srv *Server) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[CreateSessionResponse](t, rec)
	require.NotEmpty(t, resp.SessionID)
	require.Equal(t, session.StatusIntake, resp.Status)
	return resp.SessionID
}

func TestHealthOK(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "scaffoldd", resp.Service)
	assert.Empty(t, resp.Warnings)
}

func TestHealthDegradedWithoutToken(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.SCM.Token = ""
	})

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.NotEmpty(t, resp.Warnings)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	createSession(t, srv)

	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scaffoldd_sessions_created_total")
}

func TestSendMessageValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/messages", SendMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/unknown/messages", SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScaffoldingLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	// Result is unavailable before completion.
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/result", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/messages",
		SendMessageRequest{Content: "Create a go service named orders-service"})
	require.Equal(t, http.StatusOK, rec.Code)
	reply := decode[MessageResponse](t, rec)
	assert.Equal(t, session.RoleAgent, reply.Role)
	assert.Contains(t, reply.Content, "Approve this plan")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, session.StatusAwaitingApproval, status.Status)
	assert.Equal(t, 2, status.MessageCount)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/approval", ApprovalRequest{Approved: true})
	require.Equal(t, http.StatusOK, rec.Code)
	reply = decode[MessageResponse](t, rec)
	assert.Contains(t, reply.Content, "Scaffolding complete")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[session.DeliveryResult](t, rec)
	assert.Equal(t, "github", result.Platform)
	assert.Equal(t, "https://github.com/acme/orders-service", result.RepositoryURL)
	assert.Equal(t, "main", result.DefaultBranch)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]MessageResponse](t, rec)
	assert.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, session.RoleUser, history[0].Role)
}

func TestReadsDuringExecutionDoNotBlock(t *testing.T) {
	provider := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	srv := newTestServerWith(t, nil, provider)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/messages",
		SendMessageRequest{Content: "Create a go service named orders-service"})
	require.Equal(t, http.StatusOK, rec.Code)

	approved := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		approved <- doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/approval", ApprovalRequest{Approved: true})
	}()
	<-provider.entered

	// Execution is parked inside the provider; status and result must
	// answer immediately with the executing phase.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, session.StatusExecuting, status.Status)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/result", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "executing")

	close(provider.release)
	rec = <-approved
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[session.DeliveryResult](t, rec)
	assert.Equal(t, "https://github.com/acme/orders-service", result.RepositoryURL)
}

func TestApprovalBeforePlan(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/approval", ApprovalRequest{Approved: true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRejectionRevisesPlan(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/messages",
		SendMessageRequest{Content: "Create a go service named orders-service"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/approval",
		ApprovalRequest{Approved: false, Feedback: "call it billing-service instead"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/status", nil)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, session.StatusAwaitingApproval, status.Status)
}

func TestStatusUnknownSession(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/sessions/nope/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpointUnknownSession(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/sessions/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpointClosedStream(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createSession(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/messages",
		SendMessageRequest{Content: "Create a go service named orders-service"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/sessions/"+id+"/approval", ApprovalRequest{Approved: true})
	require.Equal(t, http.StatusOK, rec.Code)

	// The session is terminal, so its stream is closed and the feed ends
	// immediately after the headers.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+id+"/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
