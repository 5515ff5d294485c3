package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
)

const providerTelegram = "telegram"

type PaymentService struct {
	providerToken string
	currency      string
	payments      PaymentStore
	plans         *PlanService
	notifier      notify.Sink
	log           *slog.Logger
	now           func() time.Time
}

type invoicePayload struct {
	Plan models.PlanName `json:"plan"`
}

func NewPaymentService(providerToken, currency string, payments PaymentStore, plans *PlanService, notifier notify.Sink, log *slog.Logger) *PaymentService {
	if currency == "" {
		currency = "RUB"
	}
	return &PaymentService{
		providerToken: providerToken,
		currency:      strings.ToUpper(currency),
		payments:      payments,
		plans:         plans,
		notifier:      notifier,
		log:           log,
		now:           time.Now,
	}
}

// Enabled reports whether in-chat payments are configured. Otherwise plan
// purchases go through the admin by hand.
func (s *PaymentService) Enabled() bool {
	return s.providerToken != ""
}

// Invoice builds the Telegram invoice for a plan purchase.
func (s *PaymentService) Invoice(ctx context.Context, chatID int64, name models.PlanName) (*tgbotapi.InvoiceConfig, error) {
	plan, err := s.plans.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(invoicePayload{Plan: plan.Name})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	prices := []tgbotapi.LabeledPrice{{
		Label:  fmt.Sprintf("%s, %d дн.", plan.Title, plan.DurationDays),
		Amount: plan.PriceRub * 100,
	}}
	description := fmt.Sprintf("Генерации: %s\nРедактирования: %s\nСрок: %d дн.", plan.GenQuota, plan.EditQuota, plan.DurationDays)
	invoice := tgbotapi.NewInvoice(chatID,
		"Подписка «"+plan.Title+"»",
		description,
		string(payload),
		s.providerToken,
		"subscription",
		s.currency,
		prices,
	)
	invoice.SuggestedTipAmounts = []int{}
	return &invoice, nil
}

// ValidateCheckout answers a pre-checkout query: the payload must name a
// plan whose current price matches the charged amount.
func (s *PaymentService) ValidateCheckout(ctx context.Context, payload string, amount int, currency string) (*models.Plan, error) {
	var p invoicePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidInput)
	}
	plan, err := s.plans.Get(ctx, p.Plan)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(currency, s.currency) || amount != plan.PriceRub*100 {
		return nil, fmt.Errorf("%w: amount %d %s does not match plan %s", ErrInvalidInput, amount, currency, plan.Name)
	}
	return plan, nil
}

// Complete records a successful payment and activates the plan. A charge id
// seen before is acknowledged without granting again; applied reports
// whether this call granted the plan.
func (s *PaymentService) Complete(ctx context.Context, userID int64, payment *tgbotapi.SuccessfulPayment) (plan *models.Plan, applied bool, err error) {
	var p invoicePayload
	if err := json.Unmarshal([]byte(payment.InvoicePayload), &p); err != nil {
		return nil, false, fmt.Errorf("parse payment payload: %w", err)
	}
	plan, err = s.plans.Get(ctx, p.Plan)
	if err != nil {
		return nil, false, err
	}

	raw, _ := json.Marshal(payment)
	record := &models.Payment{
		UserID:         userID,
		Plan:           plan.Name,
		Provider:       providerTelegram,
		ProviderCharge: payment.ProviderPaymentChargeID,
		Currency:       payment.Currency,
		Amount:         payment.TotalAmount,
		Status:         "paid",
		RawPayload:     string(raw),
		CreatedAt:      s.now().UTC(),
	}
	created, err := s.payments.Create(ctx, record)
	if err != nil {
		return nil, false, fmt.Errorf("record payment: %w", err)
	}
	if !created {
		s.log.Warn("duplicate payment ignored", "user", userID, "charge", payment.ProviderPaymentChargeID)
		return plan, false, nil
	}

	if _, err := s.plans.Grant(ctx, userID, plan.Name); err != nil {
		s.notifier.Notify(notify.Error("Оплата без подписки", "Платёж %s пользователя %d записан, но тариф %s не выдан: %v",
			payment.ProviderPaymentChargeID, userID, plan.Name, err))
		return nil, false, fmt.Errorf("grant plan: %w", err)
	}
	s.notifier.Notify(notify.Info("Оплата", "Пользователь %d оплатил тариф %s (%d %s)",
		userID, plan.Title, payment.TotalAmount/100, payment.Currency))
	return plan, true, nil
}

// RequestOrder forwards a manual purchase request to the admin.
func (s *PaymentService) RequestOrder(ctx context.Context, user *models.User, name models.PlanName) (*models.Plan, error) {
	plan, err := s.plans.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(notify.Info("Заявка на подписку", "Пользователь %d (@%s) хочет тариф %s за %d ₽",
		user.ID, user.Username, plan.Title, plan.PriceRub))
	return plan, nil
}
