// internal/syncer/remote.go
package syncer

import (
	"context"

	"extension-sync/internal/github"
	"extension-sync/internal/model"
)

// StatsFetcher collects repository stats through one GitHub session.
type StatsFetcher interface {
	RepoStats(ctx context.Context, owner, name string) (*model.RepoStats, error)
}

// Remote opens GitHub sessions.
type Remote interface {
	Authenticate(ctx context.Context, username, token string) (StatsFetcher, error)
	// Anonymous is used until polling settings have been configured.
	Anonymous() StatsFetcher
}

type gitHubRemote struct {
	client       *github.Client
	defaultToken string
}

// NewGitHubRemote adapts a github.Client. defaultToken, which may be empty,
// authenticates the session used before any settings are configured.
func NewGitHubRemote(client *github.Client, defaultToken string) Remote {
	return &gitHubRemote{client: client, defaultToken: defaultToken}
}

func (r *gitHubRemote) Authenticate(ctx context.Context, username, token string) (StatsFetcher, error) {
	session, err := r.client.Authenticate(ctx, username, token)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *gitHubRemote) Anonymous() StatsFetcher {
	return r.client.Anonymous(r.defaultToken)
}
