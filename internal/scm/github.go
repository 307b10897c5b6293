package scm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// ciWorkflowFile is the workflow the scaffolded templates place in every
// repository; pipeline triggering dispatches it by file name.
const ciWorkflowFile = "ci.yml"

// GitHubProvider implements Provider against the GitHub API.
type GitHubProvider struct {
	client  *github.Client
	org     string
	token   string
	limiter *rate.Limiter
}

// NewGitHubProvider creates a provider authenticated with a static token.
// rateLimit is the sustained request rate per second against the API.
func NewGitHubProvider(ctx context.Context, org, token, baseURL string, rateLimit float64) (*GitHubProvider, error) {
	if token == "" {
		return nil, fmt.Errorf("GitHub token not set")
	}
	if org == "" {
		return nil, fmt.Errorf("GitHub organization not set")
	}
	if rateLimit <= 0 {
		rateLimit = 5
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
	}

	return &GitHubProvider{
		client:  client,
		org:     org,
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(rateLimit), int(rateLimit)+1),
	}, nil
}

// Platform returns "github".
func (p *GitHubProvider) Platform() string { return "github" }

// CreateRepository creates a private repository in the organization.
func (p *GitHubProvider) CreateRepository(ctx context.Context, name, defaultBranch string) (*Repository, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	repo, _, err := p.client.Repositories.Create(ctx, p.org, &github.Repository{
		Name:          github.String(name),
		DefaultBranch: github.String(defaultBranch),
		Private:       github.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub repository %s/%s: %w", p.org, name, err)
	}
	return &Repository{
		ID:            fmt.Sprintf("%d", repo.GetID()),
		Name:          repo.GetName(),
		URL:           repo.GetHTMLURL(),
		CloneURL:      repo.GetCloneURL(),
		DefaultBranch: defaultBranch,
	}, nil
}

// ApplyBranchProtection requires one approving pull request review on the
// branch, which also blocks direct pushes.
func (p *GitHubProvider) ApplyBranchProtection(ctx context.Context, repo *Repository, branch string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err := p.client.Repositories.UpdateBranchProtection(ctx, p.org, repo.Name, branch, &github.ProtectionRequest{
		RequiredPullRequestReviews: &github.PullRequestReviewsEnforcementRequest{
			RequiredApprovingReviewCount: 1,
		},
		EnforceAdmins: true,
	})
	if err != nil {
		return fmt.Errorf("failed to protect branch %s on %s/%s: %w", branch, p.org, repo.Name, err)
	}
	return nil
}

// TriggerPipeline dispatches the CI workflow on the default branch. GitHub
// does not return the run from a dispatch, so the run surfaces through
// GetPipelineRun polling.
func (p *GitHubProvider) TriggerPipeline(ctx context.Context, repo *Repository) (*PipelineRun, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	_, err := p.client.Actions.CreateWorkflowDispatchEventByFileName(ctx, p.org, repo.Name, ciWorkflowFile,
		github.CreateWorkflowDispatchEventRequest{Ref: repo.DefaultBranch})
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch workflow %s: %w", ciWorkflowFile, err)
	}
	return &PipelineRun{Status: RunStatusPending}, nil
}

// GetPipelineRun fetches a run by ID, or the most recent run on the
// default branch when id is zero (the dispatch case).
func (p *GitHubProvider) GetPipelineRun(ctx context.Context, repo *Repository, id int64) (*PipelineRun, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if id != 0 {
		run, resp, err := p.client.Actions.GetWorkflowRunByID(ctx, p.org, repo.Name, id)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return nil, ErrRunNotFound
			}
			return nil, fmt.Errorf("failed to get workflow run %d: %w", id, err)
		}
		return toPipelineRun(run), nil
	}

	runs, _, err := p.client.Actions.ListRepositoryWorkflowRuns(ctx, p.org, repo.Name, &github.ListWorkflowRunsOptions{
		Branch:      repo.DefaultBranch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	if runs.GetTotalCount() == 0 || len(runs.WorkflowRuns) == 0 {
		return nil, ErrRunNotFound
	}
	return toPipelineRun(runs.WorkflowRuns[0]), nil
}

// AuthMethod returns HTTPS basic auth suitable for go-git pushes.
func (p *GitHubProvider) AuthMethod() transport.AuthMethod {
	return &githttp.BasicAuth{Username: "x-access-token", Password: p.token}
}

// toPipelineRun maps a GitHub workflow run onto the provider-neutral shape.
func toPipelineRun(run *github.WorkflowRun) *PipelineRun {
	status := RunStatusRunning
	switch run.GetStatus() {
	case "queued", "waiting", "pending":
		status = RunStatusPending
	case "completed":
		if run.GetConclusion() == "success" {
			status = RunStatusSucceeded
		} else {
			status = RunStatusFailed
		}
	}
	return &PipelineRun{
		ID:     run.GetID(),
		URL:    run.GetHTMLURL(),
		Status: status,
	}
}
