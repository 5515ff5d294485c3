package models

import (
	"fmt"
	"time"
)

// Action is a billable user action.
type Action string

const (
	ActionGeneration Action = "generation"
	ActionEdit       Action = "edit"
)

func (a Action) Valid() bool {
	return a == ActionGeneration || a == ActionEdit
}

type QuotaKind string

const (
	// QuotaUnbounded means no per-day cap. It is also what an unset override means.
	QuotaUnbounded QuotaKind = "unbounded"
	// QuotaDaily caps the action at Limit per UTC day.
	QuotaDaily QuotaKind = "daily"
	// QuotaHourly lifts the daily cap and applies Limit over the trailing hour.
	QuotaHourly QuotaKind = "hourly"
)

// Quota is a per-action limit override carried by a subscription.
type Quota struct {
	Kind  QuotaKind `json:"kind"`
	Limit int       `json:"limit,omitempty"`
}

func Unbounded() Quota { return Quota{Kind: QuotaUnbounded} }

func Daily(n int) Quota { return Quota{Kind: QuotaDaily, Limit: n} }

func Hourly(n int) Quota { return Quota{Kind: QuotaHourly, Limit: n} }

// Normalize maps the zero value to Unbounded.
func (q Quota) Normalize() Quota {
	if q.Kind == "" {
		return Unbounded()
	}
	return q
}

func (q Quota) String() string {
	switch q.Normalize().Kind {
	case QuotaDaily:
		return fmt.Sprintf("%d/день", q.Limit)
	case QuotaHourly:
		return fmt.Sprintf("безлимит (до %d/час)", q.Limit)
	default:
		return "безлимит"
	}
}

// ParseQuota rebuilds a quota from its stored columns.
func ParseQuota(kind string, limit int) (Quota, error) {
	switch QuotaKind(kind) {
	case "", QuotaUnbounded:
		return Unbounded(), nil
	case QuotaDaily, QuotaHourly:
		if limit < 0 {
			return Quota{}, fmt.Errorf("negative quota limit %d", limit)
		}
		return Quota{Kind: QuotaKind(kind), Limit: limit}, nil
	default:
		return Quota{}, fmt.Errorf("unknown quota kind %q", kind)
	}
}

type User struct {
	ID                    int64      `json:"id"`
	Username              string     `json:"username"`
	FirstName             string     `json:"first_name"`
	IsAdmin               bool       `json:"is_admin"`
	Banned                bool       `json:"banned"`
	MutedUntil            *time.Time `json:"muted_until,omitempty"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	SubscriptionPermanent bool       `json:"subscription_permanent"`
	GenQuota              Quota      `json:"gen_quota"`
	EditQuota             Quota      `json:"edit_quota"`
	ReferralGenBonus      int        `json:"referral_gen_bonus"`
	ReferralEditBonus     int        `json:"referral_edit_bonus"`
	MonthlyGenerations    int        `json:"monthly_generations"`
	TotalGenerations      int        `json:"total_generations"`
	CreatedAt             time.Time  `json:"created_at"`
	LastActivity          time.Time  `json:"last_activity"`
}

func (u *User) SubscriptionActive(now time.Time) bool {
	if u.SubscriptionPermanent {
		return true
	}
	return u.SubscriptionExpiresAt != nil && u.SubscriptionExpiresAt.After(now)
}

func (u *User) Muted(now time.Time) bool {
	return u.MutedUntil != nil && u.MutedUntil.After(now)
}

// QuotaFor returns the subscription override for the action.
func (u *User) QuotaFor(action Action) Quota {
	if action == ActionEdit {
		return u.EditQuota.Normalize()
	}
	return u.GenQuota.Normalize()
}

func (u *User) BonusFor(action Action) int {
	if action == ActionEdit {
		return u.ReferralEditBonus
	}
	return u.ReferralGenBonus
}

// Apply mutates the entitlement fields according to g.
func (u *User) Apply(g Grant) {
	u.SubscriptionPermanent = g.Permanent
	if g.Permanent {
		u.SubscriptionExpiresAt = nil
	} else {
		exp := g.ExpiresAt
		u.SubscriptionExpiresAt = &exp
	}
	u.GenQuota = g.GenQuota.Normalize()
	u.EditQuota = g.EditQuota.Normalize()
}

// Grant is an entitlement mutation produced by a key, a gift or a purchase.
type Grant struct {
	Permanent bool      `json:"permanent"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	GenQuota  Quota     `json:"gen_quota"`
	EditQuota Quota     `json:"edit_quota"`
}

type UsageCounter struct {
	UserID      int64     `json:"user_id"`
	Day         time.Time `json:"day"`
	Generations int       `json:"generations"`
	Edits       int       `json:"edits"`
}

func (c UsageCounter) Count(action Action) int {
	if action == ActionEdit {
		return c.Edits
	}
	return c.Generations
}

// Window summarises actions in a trailing interval.
type Window struct {
	Count  int
	Oldest time.Time
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

const (
	PermanentKeyGenHourly  = 100
	PermanentKeyEditHourly = 30
	TemporaryKeyEditDaily  = 35
)

type Key struct {
	ID              int64      `json:"id"`
	Token           string     `json:"token"`
	DurationMinutes *int       `json:"duration_minutes"`
	Used            bool       `json:"used"`
	UsedBy          *int64     `json:"used_by,omitempty"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (k *Key) Permanent() bool {
	return k.DurationMinutes == nil
}

// Grant computes the entitlement a redemption at now confers.
func (k *Key) Grant(now time.Time) Grant {
	if k.Permanent() {
		return Grant{
			Permanent: true,
			GenQuota:  Hourly(PermanentKeyGenHourly),
			EditQuota: Hourly(PermanentKeyEditHourly),
		}
	}
	return Grant{
		ExpiresAt: now.Add(time.Duration(*k.DurationMinutes) * time.Minute),
		GenQuota:  Unbounded(),
		EditQuota: Daily(TemporaryKeyEditDaily),
	}
}

type Referral struct {
	ReferrerID int64     `json:"referrer_id"`
	ReferredID int64     `json:"referred_id"`
	GenReward  int       `json:"gen_reward"`
	EditReward int       `json:"edit_reward"`
	CreatedAt  time.Time `json:"created_at"`
}

type ReferralSettings struct {
	ID         int64     `json:"id"`
	GenReward  int       `json:"gen_reward"`
	EditReward int       `json:"edit_reward"`
	CreatedAt  time.Time `json:"created_at"`
}

type PlanName string

const (
	PlanMinimum      PlanName = "minimum"
	PlanBasic        PlanName = "basic"
	PlanProfessional PlanName = "professional"
	PlanUnlimited    PlanName = "unlimited"
)

var PlanNames = []PlanName{PlanMinimum, PlanBasic, PlanProfessional, PlanUnlimited}

func (n PlanName) Valid() bool {
	for _, v := range PlanNames {
		if v == n {
			return true
		}
	}
	return false
}

type Plan struct {
	Name         PlanName  `json:"name"`
	Title        string    `json:"title"`
	PriceRub     int       `json:"price_rub"`
	GenQuota     Quota     `json:"gen_quota"`
	EditQuota    Quota     `json:"edit_quota"`
	DurationDays int       `json:"duration_days"`
	MonthlyCap   int       `json:"monthly_cap"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (p *Plan) Grant(now time.Time) Grant {
	return Grant{
		ExpiresAt: now.AddDate(0, 0, p.DurationDays),
		GenQuota:  p.GenQuota,
		EditQuota: p.EditQuota,
	}
}

type Payment struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Plan           PlanName  `json:"plan"`
	Provider       string    `json:"provider"`
	ProviderCharge string    `json:"provider_charge"`
	Currency       string    `json:"currency"`
	Amount         int       `json:"amount"`
	Status         string    `json:"status"`
	RawPayload     string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

type Image struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Action    Action    `json:"action"`
	Prompt    string    `json:"prompt"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

type UserStats struct {
	User          *User        `json:"user"`
	Today         UsageCounter `json:"today"`
	TotalEdits    int          `json:"total_edits"`
	ReferralCount int          `json:"referral_count"`
}

type Analytics struct {
	TotalUsers       int `json:"total_users"`
	ActiveToday      int `json:"active_today"`
	PremiumUsers     int `json:"premium_users"`
	BannedUsers      int `json:"banned_users"`
	NewThisWeek      int `json:"new_this_week"`
	TotalReferrals   int `json:"total_referrals"`
	TotalGenerations int `json:"total_generations"`
	TotalEdits       int `json:"total_edits"`
}
