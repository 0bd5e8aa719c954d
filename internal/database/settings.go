// internal/database/settings.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"extension-sync/internal/model"
)

func scanSettings(row pgx.Row) (*model.Settings, error) {
	var (
		s               model.Settings
		token, username *string
		rateMs, waitMs  int64
	)
	if err := row.Scan(&s.ID, &s.UserID, &token, &username, &rateMs, &waitMs); err != nil {
		return nil, err
	}
	if token != nil {
		s.Token = *token
	}
	if username != nil {
		s.Username = *username
	}
	s.Rate = time.Duration(rateMs) * time.Millisecond
	s.Wait = time.Duration(waitMs) * time.Millisecond
	return &s, nil
}

// nullable stores blank strings as NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetSettingsByUser loads the polling settings of userID. It returns (nil, nil) when the user has none.
func (q *Queries) GetSettingsByUser(ctx context.Context, userID int64) (*model.Settings, error) {
	s, err := scanSettings(q.db.QueryRow(ctx, `
		SELECT id, user_id, token, username, rate_ms, wait_ms
		FROM github_settings WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings for user %d: %w", userID, err)
	}
	return s, nil
}

// SaveSettings upserts the settings row of settings.UserID.
func (q *Queries) SaveSettings(ctx context.Context, settings *model.Settings) (*model.Settings, error) {
	saved, err := scanSettings(q.db.QueryRow(ctx, `
		INSERT INTO github_settings (user_id, token, username, rate_ms, wait_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token,
		    username = EXCLUDED.username,
		    rate_ms = EXCLUDED.rate_ms,
		    wait_ms = EXCLUDED.wait_ms,
		    updated_at = NOW()
		RETURNING id, user_id, token, username, rate_ms, wait_ms`,
		settings.UserID, nullable(settings.Token), nullable(settings.Username),
		settings.Rate.Milliseconds(), settings.Wait.Milliseconds(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save settings for user %d: %w", settings.UserID, err)
	}
	return saved, nil
}
