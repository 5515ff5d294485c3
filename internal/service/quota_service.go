package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/quota"
)

// EventRetention bounds how long raw usage events are kept for window checks.
const EventRetention = 48 * time.Hour

type QuotaService struct {
	usage UsageStore
	plans *PlanService
	eval  quota.Evaluator
	log   *slog.Logger
	now   func() time.Time
}

// UsageProfile is what a user sees on their profile screen.
type UsageProfile struct {
	Generation         quota.Decision `json:"generation"`
	Edit               quota.Decision `json:"edit"`
	TotalGenerations   int            `json:"total_generations"`
	MonthlyGenerations int            `json:"monthly_generations"`
	MonthlyCap         int            `json:"monthly_cap"`
}

func NewQuotaService(usage UsageStore, plans *PlanService, eval quota.Evaluator, log *slog.Logger) *QuotaService {
	return &QuotaService{usage: usage, plans: plans, eval: eval, log: log, now: time.Now}
}

func (s *QuotaService) Check(ctx context.Context, u *models.User, action models.Action) (quota.Decision, error) {
	now := s.now().UTC()
	if u == nil {
		return s.eval.Evaluate(quota.Input{}, action, now), nil
	}
	today, err := s.usage.Today(ctx, u.ID, now)
	if err != nil {
		return quota.Decision{}, fmt.Errorf("load usage: %w", err)
	}
	in := quota.Input{User: u, Today: today}
	if s.eval.NeedsWindow(u, action, now) {
		in.Hour, err = s.usage.Window(ctx, u.ID, action, now.Add(-quota.HourWindow))
		if err != nil {
			return quota.Decision{}, fmt.Errorf("load window: %w", err)
		}
	}
	return s.eval.Evaluate(in, action, now), nil
}

// Record charges one completed action to the user.
func (s *QuotaService) Record(ctx context.Context, userID int64, action models.Action) error {
	if err := s.usage.Record(ctx, userID, action, s.now().UTC()); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *QuotaService) Profile(ctx context.Context, u *models.User) (*UsageProfile, error) {
	gen, err := s.Check(ctx, u, models.ActionGeneration)
	if err != nil {
		return nil, err
	}
	edit, err := s.Check(ctx, u, models.ActionEdit)
	if err != nil {
		return nil, err
	}
	limit, err := s.plans.MonthlyCap(ctx, u)
	if err != nil {
		return nil, err
	}
	return &UsageProfile{
		Generation:         gen,
		Edit:               edit,
		TotalGenerations:   u.TotalGenerations,
		MonthlyGenerations: u.MonthlyGenerations,
		MonthlyCap:         limit,
	}, nil
}

// Prune drops usage events older than EventRetention.
func (s *QuotaService) Prune(ctx context.Context) (int64, error) {
	return s.usage.PruneEvents(ctx, s.now().UTC().Add(-EventRetention))
}

func (s *QuotaService) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Prune(ctx)
			if err != nil {
				s.log.Error("prune usage events", "err", err)
				continue
			}
			if n > 0 {
				s.log.Debug("pruned usage events", "count", n)
			}
		}
	}
}
