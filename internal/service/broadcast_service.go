package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

const DefaultBroadcastRate = 25

// Sender delivers a plain text message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type BroadcastReport struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type BroadcastService struct {
	users   UserStore
	sender  Sender
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewBroadcastService(users UserStore, sender Sender, perSecond int, log *slog.Logger) *BroadcastService {
	if perSecond <= 0 {
		perSecond = DefaultBroadcastRate
	}
	return &BroadcastService{
		users:   users,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
	}
}

// Broadcast sends text to every non-banned user, paced by the rate limiter.
func (s *BroadcastService) Broadcast(ctx context.Context, text string) (BroadcastReport, error) {
	if text == "" {
		return BroadcastReport{}, fmt.Errorf("%w: empty broadcast", ErrInvalidInput)
	}
	ids, err := s.users.IDs(ctx)
	if err != nil {
		return BroadcastReport{}, fmt.Errorf("list recipients: %w", err)
	}
	report := BroadcastReport{Total: len(ids)}
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, err
		}
		if err := s.sender.SendText(ctx, id, text); err != nil {
			report.Failed++
			s.log.Warn("broadcast delivery failed", "user", id, "err", err)
			continue
		}
		report.Sent++
	}
	s.log.Info("broadcast finished", "total", report.Total, "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

// Message sends text to a single user on behalf of the admin.
func (s *BroadcastService) Message(ctx context.Context, userID int64, text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return ErrNotFound
	}
	return s.sender.SendText(ctx, userID, text)
}
