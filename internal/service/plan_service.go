package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
)

// FreeMonthlyCap is the monthly ceiling reported for users without a plan.
const FreeMonthlyCap = 280

func DefaultPlans() []models.Plan {
	return []models.Plan{
		{Name: models.PlanMinimum, Title: "Минимальный", PriceRub: 149, DurationDays: 7,
			GenQuota: models.Daily(20), EditQuota: models.Daily(10), MonthlyCap: 1400},
		{Name: models.PlanBasic, Title: "Базовый", PriceRub: 399, DurationDays: 30,
			GenQuota: models.Daily(50), EditQuota: models.Daily(25), MonthlyCap: 2800},
		{Name: models.PlanProfessional, Title: "Профессиональный", PriceRub: 799, DurationDays: 30,
			GenQuota: models.Daily(150), EditQuota: models.Daily(75), MonthlyCap: 5600},
		{Name: models.PlanUnlimited, Title: "Безлимитный", PriceRub: 1499, DurationDays: 30,
			GenQuota: models.Hourly(100), EditQuota: models.Hourly(30), MonthlyCap: 7000},
	}
}

type PlanService struct {
	plans    PlanStore
	users    UserStore
	notifier notify.Sink
	log      *slog.Logger
	now      func() time.Time

	seedMu sync.Mutex
	seeded   bool
}

// UpdatePlanInput carries the admin-editable fields; nil leaves a field as is.
type UpdatePlanInput struct {
	Title        *string       `json:"title"`
	PriceRub     *int          `json:"price_rub"`
	GenQuota     *models.Quota `json:"gen_quota"`
	EditQuota    *models.Quota `json:"edit_quota"`
	DurationDays *int          `json:"duration_days"`
	MonthlyCap   *int          `json:"monthly_cap"`
}

func NewPlanService(plans PlanStore, users UserStore, notifier notify.Sink, log *slog.Logger) *PlanService {
	return &PlanService{plans: plans, users: users, notifier: notifier, log: log, now: time.Now}
}

// ensureSeeded writes the default catalogue the first time the table is read empty.
func (s *PlanService) ensureSeeded(ctx context.Context) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.seeded {
		return nil
	}
	existing, err := s.plans.List(ctx)
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}
	if len(existing) == 0 {
		now := s.now().UTC()
		for _, p := range DefaultPlans() {
			p.UpdatedAt = now
			if err := s.plans.Upsert(ctx, &p); err != nil {
				return fmt.Errorf("seed plan %s: %w", p.Name, err)
			}
		}
		s.log.Info("seeded default subscription plans")
	}
	s.seeded = true
	return nil
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	if err := s.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	return s.plans.List(ctx)
}

func (s *PlanService) Get(ctx context.Context, name models.PlanName) (*models.Plan, error) {
	if !name.Valid() {
		return nil, ErrNotFound
	}
	if err := s.ensureSeeded(ctx); err != nil {
		return nil, err
	}
	p, err := s.plans.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *PlanService) Update(ctx context.Context, name models.PlanName, in UpdatePlanInput) (*models.Plan, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if in.Title != nil && *in.Title != "" {
		p.Title = *in.Title
	}
	if in.PriceRub != nil {
		if *in.PriceRub <= 0 {
			return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
		}
		p.PriceRub = *in.PriceRub
	}
	if in.DurationDays != nil {
		if *in.DurationDays <= 0 {
			return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
		}
		p.DurationDays = *in.DurationDays
	}
	if in.MonthlyCap != nil {
		if *in.MonthlyCap < 0 {
			return nil, fmt.Errorf("%w: negative monthly cap", ErrInvalidInput)
		}
		p.MonthlyCap = *in.MonthlyCap
	}
	for _, q := range []struct {
		src *models.Quota
		dst *models.Quota
	}{{in.GenQuota, &p.GenQuota}, {in.EditQuota, &p.EditQuota}} {
		if q.src == nil {
			continue
		}
		parsed, err := models.ParseQuota(string(q.src.Kind), q.src.Limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		*q.dst = parsed
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.plans.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	s.log.Info("plan updated", "plan", p.Name, "price", p.PriceRub)
	return p, nil
}

// Grant activates the plan for userID starting now.
func (s *PlanService) Grant(ctx context.Context, userID int64, name models.PlanName) (*models.Plan, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	if err := s.users.ApplyGrant(ctx, userID, p.Grant(s.now().UTC())); err != nil {
		return nil, fmt.Errorf("apply plan: %w", err)
	}
	s.log.Info("plan granted", "user", userID, "plan", p.Name)
	s.notifier.Notify(notify.Info("Подписка выдана", "Пользователь %d получил тариф %s на %d дн.", userID, p.Title, p.DurationDays))
	return p, nil
}

// MonthlyCap resolves the informational monthly ceiling for the user's tier
// by matching the active generation quota against the catalogue.
func (s *PlanService) MonthlyCap(ctx context.Context, u *models.User) (int, error) {
	if u == nil || !u.SubscriptionActive(s.now()) {
		return FreeMonthlyCap, nil
	}
	plans, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range plans {
		if p.GenQuota.Normalize() == u.GenQuota.Normalize() {
			return p.MonthlyCap, nil
		}
	}
	return FreeMonthlyCap, nil
}
