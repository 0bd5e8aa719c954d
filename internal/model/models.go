// internal/model/models.go
package model

import (
	"strings"
	"time"
)

// RoleAdmin is the role allowed to trigger refreshes and change polling settings.
const RoleAdmin = "ROLE_ADMIN"

// GitHubModel links an extension to its GitHub repository and holds the
// metadata last collected from it.
type GitHubModel struct {
	ID           int64      `json:"id"`
	Link         string     `json:"link"`
	Owner        string     `json:"owner"`
	Repo         string     `json:"repo"`
	PullRequests int        `json:"pull_requests"`
	OpenIssues   int        `json:"open_issues"`
	LastCommit   *time.Time `json:"last_commit,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFail     *time.Time `json:"last_fail,omitempty"`
	FailMessage  *string    `json:"fail_message,omitempty"`
}

// FullName returns the "owner/repo" form used by the GitHub API.
func (g *GitHubModel) FullName() string {
	return g.Owner + "/" + g.Repo
}

// Settings holds the polling configuration of one user. The token and
// username belong to the GitHub account used for the remote calls.
type Settings struct {
	ID       int64         `json:"id"`
	UserID   int64         `json:"user_id"`
	Token    string        `json:"-"`
	Username string        `json:"username"`
	Rate     time.Duration `json:"rate"`
	Wait     time.Duration `json:"wait"`
}

// Configured reports whether the settings carry credentials for GitHub.
func (s *Settings) Configured() bool {
	return s != nil && strings.TrimSpace(s.Token) != "" && strings.TrimSpace(s.Username) != ""
}

// User is the caller of a sync operation.
type User struct {
	ID       int64
	Username string
	Role     string
}

// IsAdmin reports whether the user holds the administrative role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// RepoStats is what one fetch collects from a repository.
type RepoStats struct {
	OpenPullRequests int
	OpenIssues       int
	LastCommit       *time.Time
}
