// Package quota decides whether a user may perform a billable action now.
package quota

import (
	"time"

	"github.com/digkill/TGImageBot/internal/models"
)

type Reason string

const (
	ReasonNone        Reason = ""
	ReasonBanned      Reason = "banned"
	ReasonMuted       Reason = "muted"
	ReasonDailyLimit  Reason = "daily_limit"
	ReasonHourlyLimit Reason = "hourly_limit"
)

const (
	DefaultFreeGenerations = 3
	DefaultFreeEdits       = 1
	HourWindow             = time.Hour
)

// Input is the state an evaluation reads. Hour is only consulted for
// hourly-capped subscriptions.
type Input struct {
	User  *models.User
	Today models.UsageCounter
	Hour  models.Window
}

// Decision is the answer to "may this user act now".
// Remaining is -1 when nothing bounds the action.
type Decision struct {
	Action     models.Action `json:"action"`
	Allowed    bool          `json:"allowed"`
	Reason     Reason        `json:"reason,omitempty"`
	Used       int           `json:"used"`
	Limit      int           `json:"limit"`
	Unlimited  bool          `json:"unlimited"`
	HourlyCap  int           `json:"hourly_cap,omitempty"`
	HourlyUsed int           `json:"hourly_used,omitempty"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at,omitempty"`
}

type Evaluator struct {
	FreeGenerations int
	FreeEdits       int
}

func NewEvaluator(freeGenerations, freeEdits int) Evaluator {
	if freeGenerations < 0 {
		freeGenerations = DefaultFreeGenerations
	}
	if freeEdits < 0 {
		freeEdits = DefaultFreeEdits
	}
	return Evaluator{FreeGenerations: freeGenerations, FreeEdits: freeEdits}
}

func (e Evaluator) baseline(action models.Action) int {
	if action == models.ActionEdit {
		return e.FreeEdits
	}
	return e.FreeGenerations
}

// Limits resolves the effective daily limit and hourly cap for the action.
// hourlyCap is zero when no sliding window applies.
func (e Evaluator) Limits(u *models.User, action models.Action, now time.Time) (daily int, unlimited bool, hourlyCap int) {
	if !u.SubscriptionActive(now) {
		return e.baseline(action) + u.BonusFor(action), false, 0
	}
	q := u.QuotaFor(action)
	switch q.Kind {
	case models.QuotaDaily:
		return q.Limit, false, 0
	case models.QuotaHourly:
		return 0, true, q.Limit
	default:
		return 0, true, 0
	}
}

// NeedsWindow reports whether Evaluate will read Input.Hour.
func (e Evaluator) NeedsWindow(u *models.User, action models.Action, now time.Time) bool {
	if u == nil || u.Banned || u.Muted(now) {
		return false
	}
	_, _, hourlyCap := e.Limits(u, action, now)
	return hourlyCap > 0
}

func (e Evaluator) Evaluate(in Input, action models.Action, now time.Time) Decision {
	d := Decision{Action: action, Used: in.Today.Count(action)}
	u := in.User
	if u == nil || u.Banned {
		d.Reason = ReasonBanned
		return d
	}
	if u.Muted(now) {
		d.Reason = ReasonMuted
		d.ResetAt = *u.MutedUntil
		return d
	}

	limit, unlimited, hourlyCap := e.Limits(u, action, now)
	d.Limit = limit
	d.Unlimited = unlimited
	d.HourlyCap = hourlyCap
	d.Remaining = -1

	if !unlimited {
		d.Remaining = max(limit-d.Used, 0)
		d.ResetAt = nextMidnight(now)
		if d.Used >= limit {
			d.Reason = ReasonDailyLimit
			return d
		}
	}
	if hourlyCap > 0 {
		d.HourlyUsed = in.Hour.Count
		d.Remaining = max(hourlyCap-in.Hour.Count, 0)
		d.ResetAt = windowReset(in.Hour, now)
		if in.Hour.Count >= hourlyCap {
			d.Reason = ReasonHourlyLimit
			return d
		}
	}
	d.Allowed = true
	return d
}

func nextMidnight(now time.Time) time.Time {
	return models.Day(now).AddDate(0, 0, 1)
}

func windowReset(w models.Window, now time.Time) time.Time {
	if w.Count == 0 || w.Oldest.IsZero() {
		return now.Add(HourWindow)
	}
	return w.Oldest.Add(HourWindow)
}
