package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mrcode/glucocalc/internal/models"
)

// LoadCounter returns the persisted accuracy counter for the user.
// A user with no stored counter gets the zero value, not an error.
func (s *SQLiteStore) LoadCounter(ctx context.Context, userID string) (models.AccuracyCounter, error) {
	var counter models.AccuracyCounter
	if err := validateContext(ctx); err != nil {
		return counter, err
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT linear_wins, lstm_wins, total_comparisons
		FROM accuracy_counters WHERE user_id = ?`, userID).
		Scan(&counter.LinearWins, &counter.LSTMWins, &counter.TotalComparisons)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.AccuracyCounter{}, nil
		}
		return counter, fmt.Errorf("failed to load accuracy counter: %w", err)
	}
	return counter, nil
}

// SaveCounter upserts the user's accuracy counter.
func (s *SQLiteStore) SaveCounter(ctx context.Context, userID string, counter models.AccuracyCounter) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accuracy_counters (user_id, linear_wins, lstm_wins, total_comparisons, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			linear_wins = excluded.linear_wins,
			lstm_wins = excluded.lstm_wins,
			total_comparisons = excluded.total_comparisons,
			updated_at = CURRENT_TIMESTAMP`,
		userID, counter.LinearWins, counter.LSTMWins, counter.TotalComparisons)
	if err != nil {
		return fmt.Errorf("failed to save accuracy counter: %w", err)
	}
	return nil
}
