package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/imaginebot/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Record counts one successful generation against the user and appends the
// history row, all in one transaction. The increment only applies while the
// daily counter is below limit; otherwise ErrDailyLimitReached is returned
// and nothing is written.
func (r *GenerationRepository) Record(ctx context.Context, rec models.GenerationRecord, limit int, now time.Time) (*models.GenerationRecord, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := rollover(ctx, tx, rec.UserID, models.Day(now)); err != nil {
		return nil, err
	}

	const increment = `
UPDATE users SET total_generations = total_generations + 1, daily_generations = daily_generations + 1
WHERE user_id = ? AND daily_generations < ?`
	res, err := tx.ExecContext(ctx, increment, rec.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("increment counters: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("increment rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE user_id = ?`, rec.UserID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check user: %w", err)
		}
		if exists == 0 {
			return nil, ErrUserNotFound
		}
		return nil, ErrDailyLimitReached
	}

	rec.CreatedAt = now.UTC()
	const insert = `
INSERT INTO generations (user_id, prompt, model_used, style_used, quality_used, generation_time, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err = tx.ExecContext(ctx, insert, rec.UserID, rec.Prompt, rec.Model, rec.Style, rec.Quality, rec.GenerationTime, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("generation last insert id: %w", err)
	}
	rec.ID = id

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit generation tx: %w", err)
	}
	return &rec, nil
}

// ListByUser returns the newest records first.
func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.GenerationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
SELECT id, user_id, prompt, model_used, style_used, quality_used, generation_time, created_at
FROM generations WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []models.GenerationRecord
	for rows.Next() {
		var rec models.GenerationRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Prompt, &rec.Model, &rec.Style, &rec.Quality, &rec.GenerationTime, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
