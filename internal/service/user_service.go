package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
)

// Profile is the identity the transport reports for a sender.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
}

type UserService struct {
	users     UserStore
	usage     UsageStore
	referrals *ReferralService
	adminID   int64
	notifier  notify.Sink
	log       *slog.Logger
	now       func() time.Time
}

func NewUserService(users UserStore, usage UsageStore, referrals *ReferralService, adminID int64, notifier notify.Sink, log *slog.Logger) *UserService {
	return &UserService{
		users:     users,
		usage:     usage,
		referrals: referrals,
		adminID:   adminID,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// Ensure loads the user, creating the row on first contact. referrerID is only
// honoured when this call created the row. created reports whether it did.
func (s *UserService) Ensure(ctx context.Context, p Profile, referrerID int64) (user *models.User, created bool, err error) {
	now := s.now().UTC()
	user, err = s.users.Get(ctx, p.ID)
	if err != nil {
		return nil, false, fmt.Errorf("get user: %w", err)
	}
	if user != nil {
		if err := s.users.Touch(ctx, p.ID, p.Username, p.FirstName, now); err != nil {
			return nil, false, fmt.Errorf("touch user: %w", err)
		}
		user.Username, user.FirstName, user.LastActivity = p.Username, p.FirstName, now
		return user, false, nil
	}

	fresh := &models.User{
		ID:           p.ID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		IsAdmin:      p.ID == s.adminID,
		GenQuota:     models.Unbounded(),
		EditQuota:    models.Unbounded(),
		CreatedAt:    now,
		LastActivity: now,
	}
	created, err = s.users.Create(ctx, fresh)
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	if !created {
		// Lost the race against a concurrent first contact.
		user, err = s.users.Get(ctx, p.ID)
		if err != nil {
			return nil, false, fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return nil, false, fmt.Errorf("user %d vanished after insert", p.ID)
		}
		return user, false, nil
	}

	s.log.Info("new user", "user", p.ID, "username", p.Username)
	s.notifier.Notify(notify.Info("Новый пользователь", "%s (@%s, id %d)", p.FirstName, p.Username, p.ID))

	if referrerID != 0 {
		if _, err := s.referrals.Register(ctx, referrerID, p.ID); err != nil {
			switch {
			case errors.Is(err, ErrSelfReferral), errors.Is(err, ErrReferralExists), errors.Is(err, ErrReferrerIneligible):
				s.log.Info("referral rejected", "user", p.ID, "referrer", referrerID, "reason", err)
			default:
				s.log.Error("referral registration failed", "user", p.ID, "referrer", referrerID, "err", err)
			}
		}
	}
	return fresh, true, nil
}

// Get returns ErrNotFound for unknown ids.
func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *UserService) Ban(ctx context.Context, id int64) error {
	return s.setBanned(ctx, id, true)
}

func (s *UserService) Unban(ctx context.Context, id int64) error {
	return s.setBanned(ctx, id, false)
}

func (s *UserService) setBanned(ctx context.Context, id int64, banned bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.users.SetBanned(ctx, id, banned); err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	s.log.Info("user ban changed", "user", id, "banned", banned)
	return nil
}

// Mute silences the user for minutes; zero lifts an existing mute.
func (s *UserService) Mute(ctx context.Context, id int64, minutes int) (*time.Time, error) {
	if minutes < 0 {
		return nil, fmt.Errorf("%w: negative mute duration", ErrInvalidInput)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var until *time.Time
	if minutes > 0 {
		t := s.now().UTC().Add(time.Duration(minutes) * time.Minute)
		until = &t
	}
	if err := s.users.SetMutedUntil(ctx, id, until); err != nil {
		return nil, fmt.Errorf("set muted: %w", err)
	}
	s.log.Info("user mute changed", "user", id, "minutes", minutes)
	return until, nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete user: %w", err)
	}
	s.log.Info("user deleted", "user", id)
	return nil
}

func (s *UserService) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.users.List(ctx, limit, offset)
}

func (s *UserService) Search(ctx context.Context, query string, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.users.Search(ctx, query, limit)
}

func (s *UserService) IDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}

func (s *UserService) Stats(ctx context.Context, id int64) (*models.UserStats, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	today, err := s.usage.Today(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("today usage: %w", err)
	}
	edits, err := s.usage.TotalEdits(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("total edits: %w", err)
	}
	refs, err := s.referrals.CountByReferrer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count referrals: %w", err)
	}
	return &models.UserStats{User: u, Today: today, TotalEdits: edits, ReferralCount: refs}, nil
}

func (s *UserService) Analytics(ctx context.Context) (models.Analytics, error) {
	return s.users.Analytics(ctx, s.now())
}
