package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digkill/imaginebot/internal/catalog"
	"github.com/digkill/imaginebot/internal/database"
	"github.com/digkill/imaginebot/internal/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDailyLimitReached  = errors.New("daily generation limit reached")
	errNoPreferenceFields = errors.New("no preference fields to update")
)

const userColumns = `user_id, total_generations, daily_generations, last_generation_date,
preferred_model, preferred_style, preferred_quality, is_premium, created_at`

type UserRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewUserRepository(db *sql.DB, dialect database.Dialect) *UserRepository {
	return &UserRepository{db: db, dialect: dialect}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.UserAccount, error) {
	var u models.UserAccount
	if err := row.Scan(&u.UserID, &u.TotalGenerations, &u.DailyGenerations, &u.LastGenerationDate,
		&u.PreferredModel, &u.PreferredStyle, &u.PreferredQuality, &u.IsPremium, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Find returns the account or nil when the user has never interacted.
func (r *UserRepository) Find(ctx context.Context, userID string) (*models.UserAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// GetOrCreate returns the account for userID, creating it with the system
// defaults on first use. When the stored activity date is not now's
// calendar day the daily counter is reset in the same transaction.
func (r *UserRepository) GetOrCreate(ctx context.Context, userID string, now time.Time) (*models.UserAccount, error) {
	today := models.Day(now)

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := r.dialect.InsertIgnore() + ` users
(user_id, last_generation_date, preferred_model, preferred_style, preferred_quality, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userID, today, catalog.DefaultModel, catalog.DefaultStyle, catalog.DefaultQuality, now.UTC()); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if err := rollover(ctx, tx, userID, today); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit user tx: %w", err)
	}
	return user, nil
}

// rollover zeroes the daily counter when the last activity date differs from today.
func rollover(ctx context.Context, tx *sql.Tx, userID, today string) error {
	const query = `
UPDATE users SET daily_generations = 0, last_generation_date = ?
WHERE user_id = ? AND last_generation_date <> ?`
	if _, err := tx.ExecContext(ctx, query, today, userID, today); err != nil {
		return fmt.Errorf("rollover daily counter: %w", err)
	}
	return nil
}

// SetPreferences applies a partial preference update. Values are stored as given.
func (r *UserRepository) SetPreferences(ctx context.Context, userID string, prefs models.Preferences) error {
	var (
		updates []string
		values  []any
	)
	if prefs.Model != nil {
		updates = append(updates, "preferred_model = ?")
		values = append(values, *prefs.Model)
	}
	if prefs.Style != nil {
		updates = append(updates, "preferred_style = ?")
		values = append(values, *prefs.Style)
	}
	if prefs.Quality != nil {
		updates = append(updates, "preferred_quality = ?")
		values = append(values, *prefs.Quality)
	}
	if len(updates) == 0 {
		return errNoPreferenceFields
	}
	values = append(values, userID)

	query := `UPDATE users SET ` + strings.Join(updates, ", ") + ` WHERE user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}

func (r *UserRepository) SetPremium(ctx context.Context, userID string, premium bool) error {
	const query = `UPDATE users SET is_premium = ? WHERE user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, premium, userID); err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return nil
}
