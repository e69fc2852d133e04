package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mrcode/glucocalc/internal/models"
)

// SaveTreatment inserts a treatment. A missing ID is filled in with a
// fresh UUID; the filled-in treatment is returned.
func (s *SQLiteStore) SaveTreatment(ctx context.Context, t models.Treatment) (models.Treatment, error) {
	if err := validateContext(ctx); err != nil {
		return t, err
	}
	if t.UserID == "" {
		return t, fmt.Errorf("treatment user ID must not be empty")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO treatments (id, user_id, event_type, date, insulin, carbs, protein, fat, notes, entered_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.EventType, t.Date, t.Insulin, t.Carbs, t.Protein, t.Fat, t.Notes, t.EnteredBy)
	if err != nil {
		return t, fmt.Errorf("failed to save treatment: %w", err)
	}
	return t, nil
}

// SaveTreatments inserts a batch of treatments in a single transaction,
// skipping any whose ID already exists. It returns the number inserted.
func (s *SQLiteStore) SaveTreatments(ctx context.Context, treatments []models.Treatment) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO treatments (id, user_id, event_type, date, insulin, carbs, protein, fat, notes, entered_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, t := range treatments {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		res, execErr := stmt.ExecContext(ctx,
			t.ID, t.UserID, t.EventType, t.Date, t.Insulin, t.Carbs, t.Protein, t.Fat, t.Notes, t.EnteredBy)
		if execErr != nil {
			return 0, fmt.Errorf("failed to save treatment %s: %w", t.ID, execErr)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit treatments: %w", err)
	}
	return inserted, nil
}

// GetTreatments returns the user's treatments with date >= since
// (Unix milliseconds), oldest first.
func (s *SQLiteStore) GetTreatments(ctx context.Context, userID string, since int64) ([]models.Treatment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, date, insulin, carbs, protein, fat,
		       COALESCE(notes, ''), COALESCE(entered_by, '')
		FROM treatments
		WHERE user_id = ? AND date >= ?
		ORDER BY date ASC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query treatments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var treatments []models.Treatment
	for rows.Next() {
		var t models.Treatment
		if err := rows.Scan(&t.ID, &t.UserID, &t.EventType, &t.Date,
			&t.Insulin, &t.Carbs, &t.Protein, &t.Fat, &t.Notes, &t.EnteredBy); err != nil {
			return nil, fmt.Errorf("failed to scan treatment: %w", err)
		}
		treatments = append(treatments, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate treatments: %w", err)
	}
	return treatments, nil
}

// GetTreatment returns a single treatment by ID, or sql.ErrNoRows
// wrapped when it does not exist.
func (s *SQLiteStore) GetTreatment(ctx context.Context, id string) (*models.Treatment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var t models.Treatment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, event_type, date, insulin, carbs, protein, fat,
		       COALESCE(notes, ''), COALESCE(entered_by, '')
		FROM treatments WHERE id = ?`, id).
		Scan(&t.ID, &t.UserID, &t.EventType, &t.Date,
			&t.Insulin, &t.Carbs, &t.Protein, &t.Fat, &t.Notes, &t.EnteredBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("treatment %s: %w", id, err)
		}
		return nil, fmt.Errorf("failed to query treatment: %w", err)
	}
	return &t, nil
}
