// Package scm abstracts the remote source-control platform: repository
// creation, pipeline triggering, and pipeline status polling. The provider
// is selected once at configuration time and injected; nothing re-dispatches
// on a platform enum per call.
package scm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"
)

// ErrRunNotFound indicates the pipeline run does not exist (yet). Polling
// treats it as transient: a freshly triggered run can take a few seconds
// to become visible.
var ErrRunNotFound = errors.New("pipeline run not found")

// Repository describes a created remote repository. ID is the
// provider-assigned identifier where the platform exposes one; Azure
// DevOps needs it for policy configuration calls.
type Repository struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
}

// RunStatus is the observed state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Finished reports whether the run has reached a terminal status.
func (s RunStatus) Finished() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// PipelineRun describes one CI run.
type PipelineRun struct {
	ID     int64     `json:"id"`
	URL    string    `json:"url"`
	Status RunStatus `json:"status"`
}

// Provider is the capability interface over one source-control platform.
type Provider interface {
	// Platform returns the provider's identifier ("github", "azuredevops").
	Platform() string

	// CreateRepository creates a remote repository owned by the
	// configured organization.
	CreateRepository(ctx context.Context, name, defaultBranch string) (*Repository, error)

	// TriggerPipeline starts a CI run for the repository's default branch.
	TriggerPipeline(ctx context.Context, repo *Repository) (*PipelineRun, error)

	// GetPipelineRun fetches the current state of a run. Returns
	// ErrRunNotFound while the run is not yet visible.
	GetPipelineRun(ctx context.Context, repo *Repository, id int64) (*PipelineRun, error)

	// ApplyBranchProtection requires pull request reviews on the branch
	// and forbids direct pushes to it.
	ApplyBranchProtection(ctx context.Context, repo *Repository, branch string) error

	// AuthMethod returns the transport auth used to push to the
	// repository over HTTPS.
	AuthMethod() transport.AuthMethod
}

// RetryConfig bounds pipeline-status polling.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default polling bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// WaitForRun polls a pipeline run with exponential backoff until it is
// visible, the attempt budget is exhausted, or ctx is cancelled. It returns
// the last observed run; callers decide whether a still-running pipeline is
// acceptable for delivery.
func WaitForRun(ctx context.Context, p Provider, repo *Repository, id int64, cfg RetryConfig, logger *zap.Logger) (*PipelineRun, error) {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	backoff := cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		run, err := p.GetPipelineRun(ctx, repo, id)
		if err == nil {
			if run.Status.Finished() {
				return run, nil
			}
			lastErr = nil
			logger.Debug("pipeline run still in progress",
				zap.Int64("run_id", id),
				zap.String("status", string(run.Status)),
				zap.Int("attempt", attempt))
			if attempt == cfg.MaxAttempts {
				// Budget exhausted while the run is alive; report what
				// we saw rather than failing delivery.
				return run, nil
			}
		} else if errors.Is(err, ErrRunNotFound) {
			lastErr = err
			logger.Debug("pipeline run not visible yet",
				zap.Int64("run_id", id),
				zap.Int("attempt", attempt))
		} else {
			return nil, fmt.Errorf("failed to poll pipeline run %d: %w", id, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("pipeline polling canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}
	return nil, fmt.Errorf("pipeline run %d not visible after %d attempts: %w", id, cfg.MaxAttempts, lastErr)
}
