package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/quota"
	"github.com/digkill/TGImageBot/internal/repository"
)

var (
	ErrNotFound           = repository.ErrNotFound
	ErrKeyUnavailable     = repository.ErrKeyUnavailable
	ErrReferralExists     = repository.ErrReferralExists
	ErrReferrerIneligible = repository.ErrReferrerIneligible
	ErrSelfReferral       = errors.New("self referral")
	ErrInvalidInput       = errors.New("invalid input")
)

// DeniedError is returned when the quota evaluator refuses an action.
type DeniedError struct {
	Decision quota.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Decision.Action, e.Decision.Reason)
}

type UserStore interface {
	Get(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, u *models.User) (bool, error)
	Touch(ctx context.Context, id int64, username, firstName string, at time.Time) error
	SetBanned(ctx context.Context, id int64, banned bool) error
	SetMutedUntil(ctx context.Context, id int64, until *time.Time) error
	ApplyGrant(ctx context.Context, id int64, g models.Grant) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	Search(ctx context.Context, q string, limit int) ([]models.User, error)
	IDs(ctx context.Context) ([]int64, error)
	Analytics(ctx context.Context, now time.Time) (models.Analytics, error)
}

type UsageStore interface {
	Today(ctx context.Context, userID int64, day time.Time) (models.UsageCounter, error)
	Window(ctx context.Context, userID int64, action models.Action, since time.Time) (models.Window, error)
	Record(ctx context.Context, userID int64, action models.Action, at time.Time) error
	TotalEdits(ctx context.Context, userID int64) (int, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

type KeyStore interface {
	Create(ctx context.Context, k *models.Key) error
	List(ctx context.Context, limit int) ([]models.Key, error)
	Redeem(ctx context.Context, token string, userID int64, now time.Time) (*models.Key, error)
}

type ReferralStore interface {
	Register(ctx context.Context, referrerID, referredID int64, defaults models.ReferralSettings, now time.Time) (*models.Referral, error)
	CountByReferrer(ctx context.Context, referrerID int64) (int, error)
	LatestSettings(ctx context.Context) (*models.ReferralSettings, error)
	AppendSettings(ctx context.Context, s *models.ReferralSettings) error
}

type PlanStore interface {
	List(ctx context.Context) ([]models.Plan, error)
	Get(ctx context.Context, name models.PlanName) (*models.Plan, error)
	Upsert(ctx context.Context, p *models.Plan) error
}

type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) (bool, error)
}

type ImageStore interface {
	Create(ctx context.Context, img *models.Image) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Image, error)
}

// Stores groups every persistence dependency so the MySQL and in-memory
// backends can be swapped in one place.
type Stores struct {
	Users     UserStore
	Usage     UsageStore
	Keys      KeyStore
	Referrals ReferralStore
	Plans     PlanStore
	Payments  PaymentStore
	Images    ImageStore
}
