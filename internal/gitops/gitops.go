// Package gitops wraps local version-control operations over go-git:
// repository init, committing the scaffolded tree, and pushing to the
// remote created by the SCM provider.
package gitops

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Author identifies the committer recorded on scaffolding commits.
type Author struct {
	Name  string
	Email string
}

// DefaultAuthor is used when no author is configured.
var DefaultAuthor = Author{Name: "scaffoldd", Email: "scaffoldd@fyrsmithlabs.com"}

// Init creates a non-bare repository at path with the given default branch.
func Init(path, defaultBranch string) (*git.Repository, error) {
	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(defaultBranch),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init repository at %s: %w", path, err)
	}
	return repo, nil
}

// CommitAll stages the whole worktree and commits it.
func CommitAll(repo *git.Repository, message string, author Author) (string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.AddGlob("."); err != nil {
		return "", fmt.Errorf("failed to stage files: %w", err)
	}
	if author.Name == "" {
		author = DefaultAuthor
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author.Name,
			Email: author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Push adds the remote (when missing) and pushes the default branch.
func Push(ctx context.Context, repo *git.Repository, remoteURL string, auth transport.AuthMethod) error {
	if _, err := repo.Remote(git.DefaultRemoteName); err == git.ErrRemoteNotFound {
		if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: git.DefaultRemoteName,
			URLs: []string{remoteURL},
		}); err != nil {
			return fmt.Errorf("failed to add remote %s: %w", remoteURL, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to inspect remotes: %w", err)
	}

	if err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       auth,
	}); err != nil {
		return fmt.Errorf("failed to push to %s: %w", remoteURL, err)
	}
	return nil
}
