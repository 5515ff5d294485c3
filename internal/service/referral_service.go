package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGImageBot/internal/metrics"
	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
	"github.com/digkill/TGImageBot/internal/workflow"
)

type ReferralService struct {
	referrals ReferralStore
	defaults  models.ReferralSettings
	notifier  notify.Sink
	log       *slog.Logger
	now       func() time.Time
}

func NewReferralService(referrals ReferralStore, defaults models.ReferralSettings, notifier notify.Sink, log *slog.Logger) *ReferralService {
	return &ReferralService{
		referrals: referrals,
		defaults:  defaults,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// Register credits referrerID for bringing referredID. The reward is the one
// in force at this moment.
func (s *ReferralService) Register(ctx context.Context, referrerID, referredID int64) (*models.Referral, error) {
	if referrerID == 0 {
		return nil, ErrReferrerIneligible
	}
	if referrerID == referredID {
		metrics.Referrals.WithLabelValues("self").Inc()
		return nil, ErrSelfReferral
	}
	ref, err := s.referrals.Register(ctx, referrerID, referredID, s.defaults, s.now())
	switch {
	case errors.Is(err, ErrReferralExists):
		metrics.Referrals.WithLabelValues("duplicate").Inc()
		return nil, err
	case errors.Is(err, ErrReferrerIneligible):
		metrics.Referrals.WithLabelValues("ineligible").Inc()
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("register referral: %w", err)
	}
	metrics.Referrals.WithLabelValues("credited").Inc()
	s.notifier.Notify(notify.Info("Новый реферал",
		"Пользователь %d пригласил %d (+%d генераций, +%d редактирований)",
		referrerID, referredID, ref.GenReward, ref.EditReward))
	return ref, nil
}

// Settings returns the rewards currently in force.
func (s *ReferralService) Settings(ctx context.Context) (models.ReferralSettings, error) {
	latest, err := s.referrals.LatestSettings(ctx)
	if err != nil {
		return models.ReferralSettings{}, fmt.Errorf("latest referral settings: %w", err)
	}
	if latest == nil {
		return s.defaults, nil
	}
	return *latest, nil
}

func (s *ReferralService) UpdateSettings(ctx context.Context, genReward, editReward int) (*models.ReferralSettings, error) {
	if genReward < 0 || genReward > workflow.MaxReward || editReward < 0 || editReward > workflow.MaxReward {
		return nil, fmt.Errorf("%w: rewards must be within 0..%d", ErrInvalidInput, workflow.MaxReward)
	}
	settings := &models.ReferralSettings{GenReward: genReward, EditReward: editReward, CreatedAt: s.now().UTC()}
	if err := s.referrals.AppendSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("append referral settings: %w", err)
	}
	s.log.Info("referral reward updated", "gen", genReward, "edit", editReward)
	return settings, nil
}

func (s *ReferralService) CountByReferrer(ctx context.Context, referrerID int64) (int, error) {
	return s.referrals.CountByReferrer(ctx, referrerID)
}

// Link is the deep link that attributes new users to userID.
func (s *ReferralService) Link(botUsername string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=ref_%d", botUsername, userID)
}
