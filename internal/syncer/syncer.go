// internal/syncer/syncer.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	custom_errors "extension-sync/internal/errors"
	"extension-sync/internal/metrics"
	"extension-sync/internal/model"
)

// LinkStore persists repository records. Get returns (nil, nil) when the
// record does not exist.
type LinkStore interface {
	GetGitHub(ctx context.Context, id int64) (*model.GitHubModel, error)
	ListGitHub(ctx context.Context) ([]*model.GitHubModel, error)
	SaveGitHub(ctx context.Context, link *model.GitHubModel) (*model.GitHubModel, error)
	DeleteGitHub(ctx context.Context, link *model.GitHubModel) error
}

// SettingsStore persists polling settings, at most one row per user.
// GetSettingsByUser returns (nil, nil) when the user has none.
type SettingsStore interface {
	GetSettingsByUser(ctx context.Context, userID int64) (*model.Settings, error)
	SaveSettings(ctx context.Context, settings *model.Settings) (*model.Settings, error)
}

// Store is the persistence the Syncer needs.
type Store interface {
	LinkStore
	SettingsStore
}

// Options tunes a Syncer.
type Options struct {
	FetchTimeout time.Duration
	// DefaultRate and DefaultWait apply until settings say otherwise.
	DefaultRate time.Duration
	DefaultWait time.Duration
}

// SettingsSpec is the polling configuration submitted by, and reported to, an admin.
type SettingsSpec struct {
	Token    string
	Username string
	Rate     time.Duration
	Wait     time.Duration
}

// RefreshSummary counts what a refresh run did.
type RefreshSummary struct {
	Total      int
	Succeeded  int
	Failed     int
	TimedOut   int
	SaveErrors int
}

// syncContext is the settings generation currently in effect and the
// GitHub session opened with it.
type syncContext struct {
	settings *model.Settings
	source   StatsFetcher
}

// Syncer keeps repository records up to date with GitHub.
type Syncer struct {
	store     Store
	remote    Remote
	fetcher   *Fetcher
	scheduler *Scheduler
	logger    *slog.Logger
	metrics   metrics.Recorder
	opts      Options

	// configMu serializes ConfigureSchedule.
	configMu sync.Mutex

	ctxMu   sync.RWMutex
	current syncContext

	// fetchSlot serializes fetch-and-save so a manual fetch never races a
	// scheduled one. Waiting for it honours the caller's context.
	fetchSlot *semaphore.Weighted
}

// NewSyncer creates a new Syncer instance. No schedule is installed until
// ConfigureSchedule or Restore succeeds.
func NewSyncer(store Store, remote Remote, logger *slog.Logger, rec metrics.Recorder, opts Options) *Syncer {
	if opts.DefaultRate <= 0 {
		opts.DefaultRate = time.Hour
	}
	if opts.DefaultWait < 0 {
		opts.DefaultWait = 0
	}

	return &Syncer{
		store:     store,
		remote:    remote,
		fetcher:   NewFetcher(opts.FetchTimeout, logger, rec),
		scheduler: NewScheduler(logger),
		logger:    logger,
		metrics:   rec,
		opts:      opts,
		current:   syncContext{source: remote.Anonymous()},
		fetchSlot: semaphore.NewWeighted(1),
	}
}

// Get loads one repository record.
func (s *Syncer) Get(ctx context.Context, id int64) (*model.GitHubModel, error) {
	link, err := s.store.GetGitHub(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load github record %d: %w", id, err)
	}
	if link == nil {
		return nil, fmt.Errorf("github record %d: %w", id, custom_errors.ErrNotFound)
	}
	return link, nil
}

// FetchOne refreshes a single record on behalf of an admin and persists it.
// A timeout returns the unchanged record with an error matching ErrFetchTimedOut.
func (s *Syncer) FetchOne(ctx context.Context, link *model.GitHubModel, user *model.User) (*model.GitHubModel, error) {
	if !user.IsAdmin() {
		return nil, fmt.Errorf("%w: you are not authorized to trigger a github refresh", custom_errors.ErrUnauthorized)
	}

	saved, outcome, err := s.fetchAndSave(ctx, s.source(), link)
	if err != nil {
		return nil, err
	}
	if outcome.Result == FetchTimedOut {
		return link, outcome.Err
	}
	return saved, nil
}

// RefreshAll fetches every tracked record one after another. A failure on
// one record never stops the run.
func (s *Syncer) RefreshAll(ctx context.Context) (RefreshSummary, error) {
	start := time.Now()
	var summary RefreshSummary

	if Superseded(ctx) {
		s.logger.Info("Refresh run skipped, schedule was replaced before it started")
		return summary, nil
	}

	links, err := s.store.ListGitHub(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list github records: %w", err)
	}
	summary.Total = len(links)
	s.logger.Info("Starting refresh run", "records", summary.Total)

	// One session for the whole run, even if settings change meanwhile.
	source := s.source()
	for _, link := range links {
		if ctx.Err() != nil {
			s.logger.Info("Refresh run interrupted", "reason", ctx.Err())
			break
		}

		_, outcome, err := s.fetchAndSave(ctx, source, link)
		if err != nil {
			summary.SaveErrors++
			s.logger.Error("Failed to save github record", "id", link.ID, "owner", link.Owner, "repo", link.Repo, "error", err)
		}
		switch outcome.Result {
		case FetchSucceeded:
			summary.Succeeded++
		case FetchFailed:
			summary.Failed++
		case FetchTimedOut:
			summary.TimedOut++
		}
	}

	s.metrics.RecordRefresh(summary.Total, time.Since(start))
	s.logger.Info("Refresh run finished",
		"records", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"timed_out", summary.TimedOut,
		"save_errors", summary.SaveErrors,
		"duration", time.Since(start).String(),
	)
	return summary, nil
}

// GenerateGitHub creates the record for a repository link, runs the initial
// fetch and persists it.
func (s *Syncer) GenerateGitHub(ctx context.Context, link string) (*model.GitHubModel, error) {
	owner, repo, err := ParseLink(link)
	if err != nil {
		return nil, err
	}

	record := &model.GitHubModel{Link: link, Owner: owner, Repo: repo}
	saved, outcome, err := s.fetchAndSave(ctx, s.source(), record)
	if err != nil {
		return nil, err
	}
	if outcome.Result == FetchTimedOut {
		// Keep the link anyway; the next refresh run fills it in.
		saved, err = s.store.SaveGitHub(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("failed to save github record for %s: %w", record.FullName(), err)
		}
	}
	return saved, nil
}

// Delete removes a repository record.
func (s *Syncer) Delete(ctx context.Context, link *model.GitHubModel) error {
	if err := s.store.DeleteGitHub(ctx, link); err != nil {
		return fmt.Errorf("failed to delete github record %d: %w", link.ID, err)
	}
	return nil
}

// ConfigureSchedule stores new settings for userID when spec is given, then
// (re)installs the polling schedule with them. Settings without credentials
// disable polling. If GitHub rejects the credentials the running schedule is
// kept and an error matching ErrAuthenticationFailed is returned.
func (s *Syncer) ConfigureSchedule(ctx context.Context, userID int64, spec *SettingsSpec) (*model.Settings, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	logger := s.logger.With("user_id", userID)

	settings, err := s.store.GetSettingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if spec != nil {
		next := &model.Settings{
			UserID:   userID,
			Token:    spec.Token,
			Username: spec.Username,
			Rate:     spec.Rate,
			Wait:     spec.Wait,
		}
		if settings != nil {
			next.ID = settings.ID
		}
		settings, err = s.store.SaveSettings(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("failed to save settings: %w", err)
		}
		logger.Info("Saved polling settings", "settings_id", settings.ID)
	}
	if settings == nil {
		settings = &model.Settings{UserID: userID}
	}

	if !settings.Configured() {
		s.scheduler.CancelAll()
		s.metrics.SetScheduleActive(false)
		s.ctxMu.Lock()
		s.current = syncContext{settings: settings, source: s.remote.Anonymous()}
		s.ctxMu.Unlock()
		logger.Info("No GitHub credentials configured, polling disabled")
		return settings, nil
	}

	source, err := s.remote.Authenticate(ctx, settings.Username, settings.Token)
	if err != nil {
		logger.Error("Failed to authenticate with GitHub, keeping current schedule", "error", err)
		return nil, fmt.Errorf("couldn't connect to github: %w", err)
	}

	// The new session must be visible before the first run can start.
	s.ctxMu.Lock()
	previous := s.current
	s.current = syncContext{settings: settings, source: source}
	s.ctxMu.Unlock()

	rate, wait := s.effective(settings)
	if err := s.scheduler.Install(rate, wait, s.refreshJob); err != nil {
		s.ctxMu.Lock()
		s.current = previous
		s.ctxMu.Unlock()
		return nil, fmt.Errorf("failed to install schedule: %w", err)
	}

	s.metrics.RecordScheduleInstalled()
	s.metrics.SetScheduleActive(true)
	logger.Info("Polling scheduled", "rate", rate.String(), "wait", wait.String())
	return settings, nil
}

// ReadSettings reports the stored credentials of userID together with the
// rate and wait currently in effect. It never fails.
func (s *Syncer) ReadSettings(ctx context.Context, userID int64) SettingsSpec {
	spec := SettingsSpec{Rate: s.opts.DefaultRate, Wait: s.opts.DefaultWait}

	stored, err := s.store.GetSettingsByUser(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load settings", "user_id", userID, "error", err)
	}
	if stored != nil {
		spec.Token = stored.Token
		spec.Username = stored.Username
	}

	s.ctxMu.RLock()
	current := s.current.settings
	s.ctxMu.RUnlock()
	if current != nil {
		spec.Rate, spec.Wait = s.effective(current)
	}
	return spec
}

// Restore reinstalls the schedule from the settings stored for userID.
func (s *Syncer) Restore(ctx context.Context, userID int64) error {
	settings, err := s.ConfigureSchedule(ctx, userID, nil)
	if err != nil {
		return err
	}
	s.logger.Info("Restored polling settings", "user_id", userID, "configured", settings.Configured())
	return nil
}

// Scheduled reports whether a polling schedule is installed.
func (s *Syncer) Scheduled() bool {
	return s.scheduler.Running()
}

// Shutdown stops the schedule and any run in progress.
func (s *Syncer) Shutdown() {
	s.scheduler.Close()
	s.metrics.SetScheduleActive(false)
}

func (s *Syncer) refreshJob(ctx context.Context) {
	if _, err := s.RefreshAll(ctx); err != nil {
		s.logger.Error("Scheduled refresh failed", "error", err)
	}
}

// fetchAndSave runs one fetch and persists the record unless the fetch timed
// out, in which case the record is unchanged and nothing is written.
func (s *Syncer) fetchAndSave(ctx context.Context, source StatsFetcher, link *model.GitHubModel) (*model.GitHubModel, FetchOutcome, error) {
	if err := s.fetchSlot.Acquire(ctx, 1); err != nil {
		s.logger.Warn("Gave up waiting for a running fetch", "owner", link.Owner, "repo", link.Repo, "error", err)
		return link, FetchOutcome{
			Result: FetchTimedOut,
			Err:    fmt.Errorf("%w: %s while waiting for a running fetch: %v", custom_errors.ErrFetchTimedOut, link.FullName(), err),
			At:     time.Now(),
		}, nil
	}
	defer s.fetchSlot.Release(1)

	outcome := s.fetcher.Fetch(ctx, source, link)
	if outcome.Result == FetchTimedOut {
		return link, outcome, nil
	}

	saved, err := s.store.SaveGitHub(ctx, link)
	if err != nil {
		return nil, outcome, fmt.Errorf("failed to save github record for %s: %w", link.FullName(), err)
	}
	return saved, outcome, nil
}

func (s *Syncer) source() StatsFetcher {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.current.source
}

func (s *Syncer) effective(settings *model.Settings) (rate, wait time.Duration) {
	rate, wait = settings.Rate, settings.Wait
	if rate <= 0 {
		rate = s.opts.DefaultRate
	}
	if wait < 0 {
		wait = 0
	}
	return rate, wait
}
