package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, COALESCE(username, ''), COALESCE(first_name, ''), is_admin, banned, muted_until,
subscription_expires_at, subscription_permanent, gen_quota_kind, gen_quota_limit, edit_quota_kind, edit_quota_limit,
referral_gen_bonus, referral_edit_bonus, monthly_generations, total_generations, created_at, last_activity`

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanUser(row scanner) (*models.User, error) {
	var (
		u                   models.User
		muted, expires      sql.NullTime
		genKind, editKind   string
		genLimit, editLimit int
		err                 error
	)
	if err = row.Scan(&u.ID, &u.Username, &u.FirstName, &u.IsAdmin, &u.Banned, &muted,
		&expires, &u.SubscriptionPermanent, &genKind, &genLimit, &editKind, &editLimit,
		&u.ReferralGenBonus, &u.ReferralEditBonus, &u.MonthlyGenerations, &u.TotalGenerations, &u.CreatedAt, &u.LastActivity); err != nil {
		return nil, err
	}
	if muted.Valid {
		u.MutedUntil = &muted.Time
	}
	if expires.Valid {
		u.SubscriptionExpiresAt = &expires.Time
	}
	if u.GenQuota, err = models.ParseQuota(genKind, genLimit); err != nil {
		return nil, fmt.Errorf("user %d gen quota: %w", u.ID, err)
	}
	if u.EditQuota, err = models.ParseQuota(editKind, editLimit); err != nil {
		return nil, fmt.Errorf("user %d edit quota: %w", u.ID, err)
	}
	return &u, nil
}

func (r *UserRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// Create inserts the user unless the id already exists. It reports whether
// this call created the row.
func (r *UserRepository) Create(ctx context.Context, u *models.User) (bool, error) {
	const query = `
INSERT IGNORE INTO users (id, username, first_name, is_admin, created_at, last_activity)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, u.ID, u.Username, u.FirstName, u.IsAdmin, u.CreatedAt.UTC(), u.LastActivity.UTC())
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("user rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *UserRepository) Touch(ctx context.Context, id int64, username, firstName string, at time.Time) error {
	const query = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), last_activity = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, at.UTC(), id); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (r *UserRepository) SetBanned(ctx context.Context, id int64, banned bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET banned = ? WHERE id = ?`, banned, id); err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	return nil
}

func (r *UserRepository) SetMutedUntil(ctx context.Context, id int64, until *time.Time) error {
	var v any
	if until != nil {
		v = until.UTC()
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET muted_until = ? WHERE id = ?`, v, id); err != nil {
		return fmt.Errorf("set muted until: %w", err)
	}
	return nil
}

func (r *UserRepository) ApplyGrant(ctx context.Context, id int64, g models.Grant) error {
	return applyGrant(ctx, r.db, id, g)
}

func applyGrant(ctx context.Context, db execer, id int64, g models.Grant) error {
	const query = `
UPDATE users SET subscription_permanent = ?, subscription_expires_at = ?,
    gen_quota_kind = ?, gen_quota_limit = ?, edit_quota_kind = ?, edit_quota_limit = ?
WHERE id = ?`
	var expires any
	if !g.Permanent {
		expires = g.ExpiresAt.UTC()
	}
	gen, edit := g.GenQuota.Normalize(), g.EditQuota.Normalize()
	if _, err := db.ExecContext(ctx, query, g.Permanent, expires, gen.Kind, gen.Limit, edit.Kind, edit.Limit, id); err != nil {
		return fmt.Errorf("apply grant: %w", err)
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collectUsers(rows)
}

// Search matches the query against username and first name, or the exact id
// when the query is numeric.
func (r *UserRepository) Search(ctx context.Context, q string, limit int) ([]models.User, error) {
	q = strings.TrimPrefix(strings.TrimSpace(q), "@")
	pattern := "%" + escapeLike(q) + "%"
	id, _ := strconv.ParseInt(q, 10, 64)
	const query = `
SELECT ` + userColumns + ` FROM users
WHERE username LIKE ? OR first_name LIKE ? OR id = ?
ORDER BY last_activity DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, pattern, pattern, id, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// IDs lists every user that is not banned.
func (r *UserRepository) IDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users WHERE banned = 0`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *UserRepository) Analytics(ctx context.Context, now time.Time) (models.Analytics, error) {
	const query = `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM users WHERE last_activity >= ?),
    (SELECT COUNT(*) FROM users WHERE subscription_permanent = 1 OR subscription_expires_at > ?),
    (SELECT COUNT(*) FROM users WHERE banned = 1),
    (SELECT COUNT(*) FROM users WHERE created_at >= ?),
    (SELECT COUNT(*) FROM referrals),
    (SELECT COALESCE(SUM(generations), 0) FROM usage_counters),
    (SELECT COALESCE(SUM(edits), 0) FROM usage_counters)`
	day := models.Day(now)
	var a models.Analytics
	row := r.db.QueryRowContext(ctx, query, day, now.UTC(), now.UTC().AddDate(0, 0, -7))
	if err := row.Scan(&a.TotalUsers, &a.ActiveToday, &a.PremiumUsers, &a.BannedUsers, &a.NewThisWeek,
		&a.TotalReferrals, &a.TotalGenerations, &a.TotalEdits); err != nil {
		return models.Analytics{}, fmt.Errorf("scan analytics: %w", err)
	}
	return a, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
