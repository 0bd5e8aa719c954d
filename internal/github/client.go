// internal/github/client.go
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	custom_errors "extension-sync/internal/errors"
	"extension-sync/internal/model"
)

const (
	// Attempts per API call before giving up on a retryable error.
	maxRetries = 3
	perPage    = 100
)

// retryBackoff is multiplied by the attempt number between retries of a 5xx.
var retryBackoff = 200 * time.Millisecond

// Options configures a Client.
type Options struct {
	// BaseURL overrides https://api.github.com/, e.g. for GitHub Enterprise or tests.
	BaseURL string
	// RequestsPerSecond caps API calls across all sessions. Zero or less disables the cap.
	RequestsPerSecond float64
	// HTTPClient is the base transport. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client creates GitHub sessions that share one rate limiter.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates and configures a new Client instance.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	c := &Client{
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Inf, 0),
		logger:     logger,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base url %q: %w", opts.BaseURL, err)
		}
		c.baseURL = u
	}
	return c, nil
}

// Session is an authenticated (or anonymous) connection to the GitHub API.
type Session struct {
	gh      *github.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	login   string
}

// Login returns the account the session is authenticated as, empty when anonymous.
func (s *Session) Login() string { return s.login }

// Authenticate opens a session with the given credentials and verifies them
// by loading the authenticated user. The returned error matches
// custom_errors.ErrAuthenticationFailed when GitHub rejects them; transport
// and server failures come back as *custom_errors.RemoteUnavailable.
func (c *Client) Authenticate(ctx context.Context, username, token string) (*Session, error) {
	if username == "" || token == "" {
		return nil, &custom_errors.AuthError{Username: username, Err: errors.New("username and token are required")}
	}

	s := c.newSession(token)
	var user *github.User
	err := s.call(ctx, func() error {
		var err error
		user, _, err = s.gh.Users.Get(ctx, "")
		return err
	})
	if err != nil {
		if rejected(err) {
			return nil, &custom_errors.AuthError{Username: username, Err: err}
		}
		return nil, classify("user "+username, err)
	}
	if !strings.EqualFold(user.GetLogin(), username) {
		return nil, &custom_errors.AuthError{
			Username: username,
			Err:      fmt.Errorf("token belongs to %q", user.GetLogin()),
		}
	}

	s.login = user.GetLogin()
	c.logger.Info("Authenticated with GitHub", "login", s.login)
	return s, nil
}

// Anonymous returns a session that is not tied to stored settings. The token
// may be empty, in which case requests are unauthenticated.
func (c *Client) Anonymous(token string) *Session {
	return c.newSession(token)
}

func (c *Client) newSession(token string) *Session {
	httpClient := c.httpClient
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	gh := github.NewClient(httpClient)
	if c.baseURL != nil {
		gh.BaseURL = c.baseURL
	}
	return &Session{gh: gh, limiter: c.limiter, logger: c.logger}
}

// RepoStats collects open pull requests, open issues (without pull requests)
// and the latest commit date of a repository.
func (s *Session) RepoStats(ctx context.Context, owner, name string) (*model.RepoStats, error) {
	fullName := owner + "/" + name
	logger := s.logger.With("owner", owner, "repo", name)

	err := s.call(ctx, func() error {
		_, _, err := s.gh.Repositories.Get(ctx, owner, name)
		return err
	})
	if err != nil {
		return nil, classify(fullName, err)
	}

	pulls, err := s.countPullRequests(ctx, owner, name)
	if err != nil {
		return nil, classify(fullName, err)
	}
	items, err := s.countOpenIssueItems(ctx, owner, name)
	if err != nil {
		return nil, classify(fullName, err)
	}
	lastCommit, err := s.latestCommit(ctx, owner, name)
	if err != nil {
		return nil, classify(fullName, err)
	}

	stats := &model.RepoStats{
		OpenPullRequests: pulls,
		OpenIssues:       openIssues(items, pulls),
		LastCommit:       lastCommit,
	}
	logger.Debug("Fetched repository stats", "pull_requests", stats.OpenPullRequests, "open_issues", stats.OpenIssues)
	return stats, nil
}

// openIssues removes pull requests from the issue-state count, since the
// issues listing of the API includes them.
func openIssues(items, pulls int) int {
	if items < pulls {
		return 0
	}
	return items - pulls
}

func (s *Session) countPullRequests(ctx context.Context, owner, name string) (int, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	total := 0
	for {
		var page []*github.PullRequest
		var resp *github.Response
		err := s.call(ctx, func() error {
			var err error
			page, resp, err = s.gh.PullRequests.List(ctx, owner, name, opts)
			return err
		})
		if err != nil {
			return 0, err
		}
		total += len(page)
		if resp.NextPage == 0 {
			return total, nil
		}
		opts.Page = resp.NextPage
	}
}

func (s *Session) countOpenIssueItems(ctx context.Context, owner, name string) (int, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	total := 0
	for {
		var page []*github.Issue
		var resp *github.Response
		err := s.call(ctx, func() error {
			var err error
			page, resp, err = s.gh.Issues.ListByRepo(ctx, owner, name, opts)
			return err
		})
		if err != nil {
			return 0, err
		}
		total += len(page)
		if resp.NextPage == 0 {
			return total, nil
		}
		opts.Page = resp.NextPage
	}
}

// latestCommit returns the committer date of the newest commit on the
// default branch, or nil for an empty repository.
func (s *Session) latestCommit(ctx context.Context, owner, name string) (*time.Time, error) {
	var commits []*github.RepositoryCommit
	err := s.call(ctx, func() error {
		var err error
		commits, _, err = s.gh.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
			ListOptions: github.ListOptions{PerPage: 1},
		})
		return err
	})
	if err != nil {
		// GitHub answers 409 "Git Repository is empty." when there is nothing to list.
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusConflict {
			return nil, nil
		}
		return nil, err
	}
	if len(commits) == 0 {
		return nil, nil
	}

	date := commits[0].GetCommit().GetCommitter().GetDate().Time
	if date.IsZero() {
		date = commits[0].GetCommit().GetAuthor().GetDate().Time
	}
	if date.IsZero() {
		return nil, nil
	}
	return &date, nil
}

// call runs one API request behind the shared limiter, retrying server
// errors and waiting out rate limits.
func (s *Session) call(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if waitErr := s.limiter.Wait(ctx); waitErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return context.DeadlineExceeded
		}

		err = fn()
		if err == nil {
			return nil
		}

		delay, retry := retryDelay(err, attempt)
		if !retry || attempt == maxRetries {
			return err
		}
		s.logger.Warn("Retrying GitHub request", "attempt", attempt, "delay", delay.String(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func retryDelay(err error, attempt int) (time.Duration, bool) {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return max(time.Until(rateErr.Rate.Reset.Time), 0), true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		if abuseErr.RetryAfter != nil {
			return *abuseErr.RetryAfter, true
		}
		return retryBackoff * time.Duration(attempt), true
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode >= http.StatusInternalServerError {
		return retryBackoff * time.Duration(attempt), true
	}
	return 0, false
}

// rejected reports whether GitHub refused the credentials themselves, as
// opposed to being unreachable or rate limiting the call.
func rejected(err error) bool {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return false
	}
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return false
	}
	return ghErr.Response.StatusCode == http.StatusUnauthorized || ghErr.Response.StatusCode == http.StatusForbidden
}

// classify maps a go-github error onto the remote failure kinds. Context
// errors are returned as is so that callers can tell a timeout apart.
func classify(repo string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity, http.StatusUnavailableForLegalReasons:
			return &custom_errors.RemoteDataError{Repo: repo, Err: err}
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &custom_errors.RemoteDataError{Repo: repo, Err: err}
	}

	return &custom_errors.RemoteUnavailable{Repo: repo, Err: err}
}
