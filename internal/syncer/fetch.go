// internal/syncer/fetch.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	custom_errors "extension-sync/internal/errors"
	"extension-sync/internal/metrics"
	"extension-sync/internal/model"
)

// DefaultFetchTimeout bounds a single repository fetch.
const DefaultFetchTimeout = 50 * time.Second

// FetchResult classifies the outcome of a fetch.
type FetchResult int

const (
	// FetchSucceeded means the record was updated with fresh stats.
	FetchSucceeded FetchResult = iota
	// FetchFailed means GitHub reported an error; it was recorded on the record.
	FetchFailed
	// FetchTimedOut means the time budget ran out; the record was not touched.
	FetchTimedOut
)

func (r FetchResult) String() string {
	switch r {
	case FetchSucceeded:
		return "succeeded"
	case FetchFailed:
		return "failed"
	case FetchTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// FetchOutcome is the result of one fetch.
type FetchOutcome struct {
	Result FetchResult
	Err    error
	At     time.Time
}

// Fetcher runs one GitHub call per record under a hard time budget.
type Fetcher struct {
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewFetcher creates a Fetcher. A non-positive timeout selects DefaultFetchTimeout.
func NewFetcher(timeout time.Duration, logger *slog.Logger, rec metrics.Recorder) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
		metrics: rec,
	}
}

type statsResult struct {
	stats *model.RepoStats
	err   error
}

// Fetch collects stats for link and applies the outcome to it. When the time
// budget runs out the call is abandoned and link is left as it was.
func (f *Fetcher) Fetch(ctx context.Context, source StatsFetcher, link *model.GitHubModel) FetchOutcome {
	logger := f.logger.With("owner", link.Owner, "repo", link.Repo)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// Buffered so an abandoned call can still deliver and exit.
	done := make(chan statsResult, 1)
	owner, repo := link.Owner, link.Repo
	go func() {
		stats, err := source.RepoStats(ctx, owner, repo)
		done <- statsResult{stats: stats, err: err}
	}()

	var res statsResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	outcome := FetchOutcome{At: f.now()}
	switch {
	case res.err == nil && res.stats != nil:
		ApplySuccess(link, res.stats, outcome.At)
		outcome.Result = FetchSucceeded
		logger.Info("Fetched repository details", "pull_requests", link.PullRequests, "open_issues", link.OpenIssues)

	case errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled):
		outcome.Result = FetchTimedOut
		outcome.Err = fmt.Errorf("%w: %s after %s", custom_errors.ErrFetchTimedOut, link.FullName(), f.timeout)
		logger.Warn("Fetch abandoned, record left unchanged", "timeout", f.timeout.String(), "error", res.err)

	default:
		err := failureFor(link, res.err)
		ApplyFailure(link, err.Error(), outcome.At)
		outcome.Result = FetchFailed
		outcome.Err = err
		logger.Error("Failed to fetch repository details", "error", err)
	}

	f.metrics.RecordFetch(outcome.Result.String(), time.Since(start))
	return outcome
}

// failureFor names the record by the link it was tracked with, so the stored
// message points at what the user submitted.
func failureFor(link *model.GitHubModel, err error) error {
	name := link.Link
	if name == "" {
		name = link.FullName()
	}

	var data *custom_errors.RemoteDataError
	var unavailable *custom_errors.RemoteUnavailable
	switch {
	case err == nil:
		return &custom_errors.RemoteDataError{Repo: name, Err: errors.New("empty response")}
	case errors.As(err, &data):
		return &custom_errors.RemoteDataError{Repo: name, Err: data.Err}
	case errors.As(err, &unavailable):
		return &custom_errors.RemoteUnavailable{Repo: name, Err: unavailable.Err}
	default:
		return &custom_errors.RemoteUnavailable{Repo: name, Err: err}
	}
}

// ApplySuccess stores fresh stats on the record. Earlier failure fields are kept.
func ApplySuccess(link *model.GitHubModel, stats *model.RepoStats, now time.Time) {
	link.PullRequests = stats.OpenPullRequests
	link.OpenIssues = stats.OpenIssues
	link.LastCommit = stats.LastCommit
	link.LastSuccess = &now
}

// ApplyFailure records a failed fetch. Counts and commit data are kept.
func ApplyFailure(link *model.GitHubModel, reason string, now time.Time) {
	link.LastFail = &now
	link.FailMessage = &reason
}
