package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mrcode/glucocalc/internal/models"
)

// SaveGlucoseReadings upserts a batch of CGM readings. Re-synced
// readings with an existing (user, date) pair are ignored so the feed
// poller can safely overlap its fetch windows. Returns the number of
// new readings stored.
func (s *SQLiteStore) SaveGlucoseReadings(ctx context.Context, readings []models.GlucoseReading) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO glucose_readings (id, user_id, sgv, date, trend, direction, device)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, r := range readings {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		res, execErr := stmt.ExecContext(ctx, r.ID, r.UserID, r.SGV, r.Date, r.Trend, r.Direction, r.Device)
		if execErr != nil {
			return 0, fmt.Errorf("failed to save glucose reading: %w", execErr)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit glucose readings: %w", err)
	}
	return inserted, nil
}

// GetLatestGlucose returns the most recent reading for the user, or
// nil when none exist.
func (s *SQLiteStore) GetLatestGlucose(ctx context.Context, userID string) (*models.GlucoseReading, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var r models.GlucoseReading
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, sgv, date, trend, COALESCE(direction, ''), COALESCE(device, '')
		FROM glucose_readings
		WHERE user_id = ?
		ORDER BY date DESC LIMIT 1`, userID).
		Scan(&r.ID, &r.UserID, &r.SGV, &r.Date, &r.Trend, &r.Direction, &r.Device)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest glucose: %w", err)
	}
	return &r, nil
}

// GetGlucoseHistory returns the user's most recent readings up to
// limit, oldest first.
func (s *SQLiteStore) GetGlucoseHistory(ctx context.Context, userID string, limit int) ([]models.GlucoseReading, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 24
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, sgv, date, trend, COALESCE(direction, ''), COALESCE(device, '')
		FROM (
			SELECT * FROM glucose_readings
			WHERE user_id = ?
			ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query glucose history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var readings []models.GlucoseReading
	for rows.Next() {
		var r models.GlucoseReading
		if err := rows.Scan(&r.ID, &r.UserID, &r.SGV, &r.Date, &r.Trend, &r.Direction, &r.Device); err != nil {
			return nil, fmt.Errorf("failed to scan glucose reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate glucose readings: %w", err)
	}
	return readings, nil
}

// LatestGlucoseDate returns the newest stored reading timestamp for
// the user in Unix milliseconds, or 0 when none exist. The feed poller
// uses it to resume where the last sync stopped.
func (s *SQLiteStore) LatestGlucoseDate(ctx context.Context, userID string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var date sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM glucose_readings WHERE user_id = ?`, userID).Scan(&date)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest glucose date: %w", err)
	}
	return date.Int64, nil
}
