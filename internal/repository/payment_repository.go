package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/TGImageBot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create records the payment. It reports false when the provider charge was
// already recorded.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) (bool, error) {
	const query = `
INSERT INTO payments (user_id, plan, provider, provider_payment_charge_id, currency, amount, status, raw_payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.UserID, payment.Plan, payment.Provider, payment.ProviderCharge,
		payment.Currency, payment.Amount, payment.Status, payment.RawPayload, payment.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return true, nil
}
