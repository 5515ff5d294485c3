package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGImageBot/internal/models"
)

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `name, title, price_rub, gen_quota_kind, gen_quota_limit, edit_quota_kind, edit_quota_limit, duration_days, monthly_cap, updated_at`

func scanPlan(row scanner) (*models.Plan, error) {
	var (
		p                   models.Plan
		genKind, editKind   string
		genLimit, editLimit int
		err                 error
	)
	if err = row.Scan(&p.Name, &p.Title, &p.PriceRub, &genKind, &genLimit, &editKind, &editLimit, &p.DurationDays, &p.MonthlyCap, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if p.GenQuota, err = models.ParseQuota(genKind, genLimit); err != nil {
		return nil, fmt.Errorf("plan %s gen quota: %w", p.Name, err)
	}
	if p.EditQuota, err = models.ParseQuota(editKind, editLimit); err != nil {
		return nil, fmt.Errorf("plan %s edit quota: %w", p.Name, err)
	}
	return &p, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	const query = `SELECT ` + planColumns + ` FROM subscription_plans ORDER BY price_rub ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) Get(ctx context.Context, name models.PlanName) (*models.Plan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE name = ?`, name)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func (r *PlanRepository) Upsert(ctx context.Context, plan *models.Plan) error {
	const query = `
INSERT INTO subscription_plans (name, title, price_rub, gen_quota_kind, gen_quota_limit, edit_quota_kind, edit_quota_limit, duration_days, monthly_cap, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE title = VALUES(title), price_rub = VALUES(price_rub),
    gen_quota_kind = VALUES(gen_quota_kind), gen_quota_limit = VALUES(gen_quota_limit),
    edit_quota_kind = VALUES(edit_quota_kind), edit_quota_limit = VALUES(edit_quota_limit),
    duration_days = VALUES(duration_days), monthly_cap = VALUES(monthly_cap), updated_at = VALUES(updated_at)`
	gen, edit := plan.GenQuota.Normalize(), plan.EditQuota.Normalize()
	if _, err := r.db.ExecContext(ctx, query, plan.Name, plan.Title, plan.PriceRub, gen.Kind, gen.Limit, edit.Kind, edit.Limit,
		plan.DurationDays, plan.MonthlyCap, plan.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}
