package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
)

type KeyRepository struct {
	db *sql.DB
}

func NewKeyRepository(db *sql.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

const keyColumns = `id, token, duration_minutes, used, used_by, used_at, created_at`

func scanKey(row scanner) (*models.Key, error) {
	var (
		k        models.Key
		duration sql.NullInt64
		usedBy   sql.NullInt64
		usedAt   sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.Token, &duration, &k.Used, &usedBy, &usedAt, &k.CreatedAt); err != nil {
		return nil, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		k.DurationMinutes = &d
	}
	if usedBy.Valid {
		k.UsedBy = &usedBy.Int64
	}
	if usedAt.Valid {
		k.UsedAt = &usedAt.Time
	}
	return &k, nil
}

func (r *KeyRepository) Create(ctx context.Context, k *models.Key) error {
	const query = `INSERT INTO activation_keys (token, duration_minutes, created_at) VALUES (?, ?, ?)`
	var duration any
	if k.DurationMinutes != nil {
		duration = *k.DurationMinutes
	}
	res, err := r.db.ExecContext(ctx, query, k.Token, duration, k.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("key last insert id: %w", err)
	}
	k.ID = id
	return nil
}

func (r *KeyRepository) List(ctx context.Context, limit int) ([]models.Key, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+keyColumns+` FROM activation_keys ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []models.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// Redeem claims the unused key and applies its grant to the user in one
// transaction. The user update precedes the used flag; both commit together.
func (r *KeyRepository) Redeem(ctx context.Context, token string, userID int64, now time.Time) (*models.Key, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM activation_keys WHERE token = ? AND used = 0 FOR UPDATE`, token)
	key, err := scanKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyUnavailable
		}
		return nil, fmt.Errorf("lock key: %w", err)
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ? FOR UPDATE`, userID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyUnavailable
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	if err := applyGrant(ctx, tx, userID, key.Grant(now)); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE activation_keys SET used = 1, used_by = ?, used_at = ? WHERE id = ? AND used = 0`, userID, now.UTC(), key.ID)
	if err != nil {
		return nil, fmt.Errorf("mark key used: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("key rows affected: %w", err)
	} else if n != 1 {
		return nil, ErrKeyUnavailable
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit key tx: %w", err)
	}

	usedAt := now.UTC()
	key.Used = true
	key.UsedBy = &userID
	key.UsedAt = &usedAt
	return key, nil
}
