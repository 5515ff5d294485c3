package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
)

type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Today(ctx context.Context, userID int64, day time.Time) (models.UsageCounter, error) {
	day = models.Day(day)
	c := models.UsageCounter{UserID: userID, Day: day}
	const query = `SELECT generations, edits FROM usage_counters WHERE user_id = ? AND day = ?`
	err := r.db.QueryRowContext(ctx, query, userID, day).Scan(&c.Generations, &c.Edits)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("get usage counter: %w", err)
	}
	return c, nil
}

// Window counts the user's actions of one kind after since.
func (r *UsageRepository) Window(ctx context.Context, userID int64, action models.Action, since time.Time) (models.Window, error) {
	const query = `
SELECT COUNT(*), MIN(created_at) FROM usage_events
WHERE user_id = ? AND action = ? AND created_at > ?`
	var (
		w      models.Window
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, userID, action, since.UTC()).Scan(&w.Count, &oldest); err != nil {
		return w, fmt.Errorf("count usage window: %w", err)
	}
	if oldest.Valid {
		w.Oldest = oldest.Time
	}
	return w, nil
}

// Record increments the day counter, appends the window event and refreshes
// the user's aggregates in one transaction.
func (r *UsageRepository) Record(ctx context.Context, userID int64, action models.Action, at time.Time) error {
	gen, edit := 0, 0
	if action == models.ActionEdit {
		edit = 1
	} else {
		gen = 1
	}
	day := models.Day(at)
	monthStart := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
INSERT INTO usage_counters (user_id, day, generations, edits) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE generations = generations + VALUES(generations), edits = edits + VALUES(edits)`
	if _, err := tx.ExecContext(ctx, upsert, userID, day, gen, edit); err != nil {
		return fmt.Errorf("upsert usage counter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO usage_events (user_id, action, created_at) VALUES (?, ?, ?)`, userID, action, at.UTC()); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	const aggregates = `
UPDATE users SET total_generations = total_generations + 1,
    monthly_generations = (
        SELECT COALESCE(SUM(generations + edits), 0) FROM usage_counters WHERE user_id = ? AND day >= ?
    )
WHERE id = ?`
	if _, err := tx.ExecContext(ctx, aggregates, userID, monthStart, userID); err != nil {
		return fmt.Errorf("update usage aggregates: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage tx: %w", err)
	}
	return nil
}

func (r *UsageRepository) TotalEdits(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(edits), 0) FROM usage_counters WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum edits: %w", err)
	}
	return n, nil
}

// PruneEvents deletes window events older than before.
func (r *UsageRepository) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM usage_events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune usage events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
