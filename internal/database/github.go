// internal/database/github.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	custom_errors "extension-sync/internal/errors"
	"extension-sync/internal/model"
)

const githubColumns = `id, link, owner, repo, pull_requests, open_issues, last_commit, last_success, last_fail, fail_message`

func scanGitHub(row pgx.Row) (*model.GitHubModel, error) {
	var m model.GitHubModel
	err := row.Scan(
		&m.ID, &m.Link, &m.Owner, &m.Repo,
		&m.PullRequests, &m.OpenIssues,
		&m.LastCommit, &m.LastSuccess, &m.LastFail, &m.FailMessage,
	)
	if err != nil {
		return nil, err
	}
	utc(m.LastCommit)
	utc(m.LastSuccess)
	utc(m.LastFail)
	return &m, nil
}

func utc(t *time.Time) {
	if t != nil {
		*t = t.UTC()
	}
}

// GetGitHub loads a repository record. It returns (nil, nil) when no such record exists.
func (q *Queries) GetGitHub(ctx context.Context, id int64) (*model.GitHubModel, error) {
	m, err := scanGitHub(q.db.QueryRow(ctx, `SELECT `+githubColumns+` FROM github_repositories WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get github record %d: %w", id, err)
	}
	return m, nil
}

// ListGitHub returns every repository record ordered by id.
func (q *Queries) ListGitHub(ctx context.Context) ([]*model.GitHubModel, error) {
	rows, err := q.db.Query(ctx, `SELECT `+githubColumns+` FROM github_repositories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list github records: %w", err)
	}
	defer rows.Close()

	var links []*model.GitHubModel
	for rows.Next() {
		m, err := scanGitHub(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan github record: %w", err)
		}
		links = append(links, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list github records: %w", err)
	}
	return links, nil
}

// SaveGitHub inserts link when it has no id yet and updates it otherwise.
func (q *Queries) SaveGitHub(ctx context.Context, link *model.GitHubModel) (*model.GitHubModel, error) {
	if link.ID == 0 {
		saved, err := scanGitHub(q.db.QueryRow(ctx, `
			INSERT INTO github_repositories (link, owner, repo, pull_requests, open_issues, last_commit, last_success, last_fail, fail_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+githubColumns,
			link.Link, link.Owner, link.Repo, link.PullRequests, link.OpenIssues,
			link.LastCommit, link.LastSuccess, link.LastFail, link.FailMessage,
		))
		if err != nil {
			return nil, fmt.Errorf("failed to insert github record %s: %w", link.FullName(), err)
		}
		return saved, nil
	}

	saved, err := scanGitHub(q.db.QueryRow(ctx, `
		UPDATE github_repositories
		SET link = $2, owner = $3, repo = $4, pull_requests = $5, open_issues = $6,
		    last_commit = $7, last_success = $8, last_fail = $9, fail_message = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING `+githubColumns,
		link.ID, link.Link, link.Owner, link.Repo, link.PullRequests, link.OpenIssues,
		link.LastCommit, link.LastSuccess, link.LastFail, link.FailMessage,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("github record %d: %w", link.ID, custom_errors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update github record %d: %w", link.ID, err)
	}
	return saved, nil
}

// DeleteGitHub removes a repository record. Deleting a missing record is not an error.
func (q *Queries) DeleteGitHub(ctx context.Context, link *model.GitHubModel) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM github_repositories WHERE id = $1`, link.ID); err != nil {
		return fmt.Errorf("failed to delete github record %d: %w", link.ID, err)
	}
	return nil
}
