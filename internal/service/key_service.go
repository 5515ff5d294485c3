package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/TGImageBot/internal/metrics"
	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
	"github.com/digkill/TGImageBot/internal/workflow"
)

type KeyService struct {
	keys     KeyStore
	notifier notify.Sink
	log      *slog.Logger
	now      func() time.Time
}

// Redemption describes what a successful redemption granted.
type Redemption struct {
	Key   *models.Key
	Grant models.Grant
}

func NewKeyService(keys KeyStore, notifier notify.Sink, log *slog.Logger) *KeyService {
	return &KeyService{keys: keys, notifier: notifier, log: log, now: time.Now}
}

// Create issues a fresh key. A zero duration makes it permanent.
func (s *KeyService) Create(ctx context.Context, durationMinutes int) (*models.Key, error) {
	if durationMinutes < 0 {
		return nil, fmt.Errorf("%w: negative key duration", ErrInvalidInput)
	}
	key := &models.Key{Token: uuid.NewString(), CreatedAt: s.now().UTC()}
	if durationMinutes > 0 {
		d := durationMinutes
		key.DurationMinutes = &d
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}
	s.log.Info("activation key created", "key_id", key.ID, "duration_minutes", durationMinutes)
	return key, nil
}

// Redeem claims token for userID. Unknown, used or unclaimable tokens
// yield ErrKeyUnavailable and change nothing.
func (s *KeyService) Redeem(ctx context.Context, userID int64, token string) (*Redemption, error) {
	token = workflow.NormalizeToken(token)
	if token == "" {
		metrics.KeyRedemptions.WithLabelValues("invalid").Inc()
		return nil, ErrKeyUnavailable
	}
	now := s.now().UTC()
	key, err := s.keys.Redeem(ctx, token, userID, now)
	if err != nil {
		if errors.Is(err, ErrKeyUnavailable) {
			metrics.KeyRedemptions.WithLabelValues("unavailable").Inc()
			return nil, err
		}
		metrics.KeyRedemptions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("redeem key: %w", err)
	}
	metrics.KeyRedemptions.WithLabelValues("redeemed").Inc()

	grant := key.Grant(now)
	s.log.Info("activation key redeemed", "user", userID, "key_id", key.ID, "permanent", key.Permanent())
	duration := "навсегда"
	if !key.Permanent() {
		duration = fmt.Sprintf("%d мин.", *key.DurationMinutes)
	}
	s.notifier.Notify(notify.Info("Ключ активирован", "Пользователь %d активировал ключ (%s)", userID, duration))
	return &Redemption{Key: key, Grant: grant}, nil
}

func (s *KeyService) List(ctx context.Context, limit int) ([]models.Key, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.keys.List(ctx, limit)
}
