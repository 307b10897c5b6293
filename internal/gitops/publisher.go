package gitops

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/fyrsmithlabs/scaffoldd/internal/scm"
)

// Publisher turns a scaffolded workspace into the repository's initial
// commit: init, stage everything, commit, push.
type Publisher struct {
	Author Author
}

// NewPublisher creates a publisher committing as the given author.
func NewPublisher(author Author) *Publisher {
	if author.Name == "" {
		author = DefaultAuthor
	}
	return &Publisher{Author: author}
}

// Publish initializes a repository at path and pushes it to the remote.
func (p *Publisher) Publish(ctx context.Context, path string, repo *scm.Repository, auth transport.AuthMethod) (string, error) {
	r, err := Init(path, repo.DefaultBranch)
	if err != nil {
		return "", err
	}
	commit, err := CommitAll(r, fmt.Sprintf("Scaffold %s", repo.Name), p.Author)
	if err != nil {
		return "", err
	}
	if err := Push(ctx, r, repo.CloneURL, auth); err != nil {
		return commit, err
	}
	return commit, nil
}
