package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
)

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// Register records the edge and credits the referrer with the latest reward
// settings, falling back to defaults when none were ever saved.
func (r *ReferralRepository) Register(ctx context.Context, referrerID, referredID int64, defaults models.ReferralSettings, now time.Time) (*models.Referral, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var banned bool
	if err := tx.QueryRowContext(ctx, `SELECT banned FROM users WHERE id = ? FOR UPDATE`, referrerID).Scan(&banned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReferrerIneligible
		}
		return nil, fmt.Errorf("lock referrer: %w", err)
	}
	if banned {
		return nil, ErrReferrerIneligible
	}

	settings, err := latestSettings(ctx, tx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = &defaults
	}

	ref := &models.Referral{
		ReferrerID: referrerID,
		ReferredID: referredID,
		GenReward:  settings.GenReward,
		EditReward: settings.EditReward,
		CreatedAt:  now.UTC(),
	}
	const insert = `
INSERT INTO referrals (referrer_id, referred_id, gen_reward, edit_reward, created_at)
VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, ref.ReferrerID, ref.ReferredID, ref.GenReward, ref.EditReward, ref.CreatedAt); err != nil {
		if isDuplicate(err) {
			return nil, ErrReferralExists
		}
		return nil, fmt.Errorf("insert referral: %w", err)
	}

	const credit = `
UPDATE users SET referral_gen_bonus = referral_gen_bonus + ?, referral_edit_bonus = referral_edit_bonus + ?
WHERE id = ?`
	if _, err := tx.ExecContext(ctx, credit, ref.GenReward, ref.EditReward, referrerID); err != nil {
		return nil, fmt.Errorf("credit referrer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit referral tx: %w", err)
	}
	return ref, nil
}

func (r *ReferralRepository) CountByReferrer(ctx context.Context, referrerID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM referrals WHERE referrer_id = ?`, referrerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return n, nil
}

func (r *ReferralRepository) LatestSettings(ctx context.Context) (*models.ReferralSettings, error) {
	return latestSettings(ctx, r.db)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestSettings(ctx context.Context, q querier) (*models.ReferralSettings, error) {
	const query = `
SELECT id, gen_reward, edit_reward, created_at FROM referral_settings
ORDER BY created_at DESC, id DESC LIMIT 1`
	var s models.ReferralSettings
	if err := q.QueryRowContext(ctx, query).Scan(&s.ID, &s.GenReward, &s.EditReward, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get referral settings: %w", err)
	}
	return &s, nil
}

// AppendSettings stores a new settings row; history is never rewritten.
func (r *ReferralRepository) AppendSettings(ctx context.Context, s *models.ReferralSettings) error {
	const query = `INSERT INTO referral_settings (gen_reward, edit_reward, created_at) VALUES (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, s.GenReward, s.EditReward, s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert referral settings: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("referral settings last insert id: %w", err)
	}
	s.ID = id
	return nil
}
