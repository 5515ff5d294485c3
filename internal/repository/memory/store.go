// Package memory is an in-process implementation of the repositories.
// Every operation runs under one mutex, so multi-row mutations are atomic.
package memory

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/repository"
)

type usageKey struct {
	userID int64
	day    time.Time
}

type event struct {
	userID int64
	action models.Action
	at     time.Time
}

type Store struct {
	mu sync.RWMutex

	users     map[int64]*models.User
	usage     map[usageKey]*models.UsageCounter
	events    []event
	keys      map[string]*models.Key
	keySeq    int64
	referrals map[int64]*models.Referral
	settings  []models.ReferralSettings
	plans     map[models.PlanName]*models.Plan
	payments  map[string]*models.Payment
	paySeq    int64
	images    []models.Image
}

func New() *Store {
	return &Store{
		users:     make(map[int64]*models.User),
		usage:     make(map[usageKey]*models.UsageCounter),
		keys:      make(map[string]*models.Key),
		referrals: make(map[int64]*models.Referral),
		plans:     make(map[models.PlanName]*models.Plan),
		payments:  make(map[string]*models.Payment),
	}
}

func (s *Store) Users() *UserRepository         { return &UserRepository{s} }
func (s *Store) Usage() *UsageRepository        { return &UsageRepository{s} }
func (s *Store) Keys() *KeyRepository           { return &KeyRepository{s} }
func (s *Store) Referrals() *ReferralRepository { return &ReferralRepository{s} }
func (s *Store) Plans() *PlanRepository         { return &PlanRepository{s} }
func (s *Store) Payments() *PaymentRepository   { return &PaymentRepository{s} }
func (s *Store) Images() *ImageRepository       { return &ImageRepository{s} }

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

// Users

type UserRepository struct{ s *Store }

func (r *UserRepository) Get(_ context.Context, id int64) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if u, ok := r.s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (r *UserRepository) Create(_ context.Context, u *models.User) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return false, nil
	}
	c := copyUser(u)
	c.GenQuota = c.GenQuota.Normalize()
	c.EditQuota = c.EditQuota.Normalize()
	r.s.users[u.ID] = c
	return true, nil
}

func (r *UserRepository) update(id int64, fn func(u *models.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		fn(u)
	}
	return nil
}

func (r *UserRepository) Touch(_ context.Context, id int64, username, firstName string, at time.Time) error {
	return r.update(id, func(u *models.User) {
		u.Username, u.FirstName, u.LastActivity = username, firstName, at
	})
}

func (r *UserRepository) SetBanned(_ context.Context, id int64, banned bool) error {
	return r.update(id, func(u *models.User) { u.Banned = banned })
}

func (r *UserRepository) SetMutedUntil(_ context.Context, id int64, until *time.Time) error {
	return r.update(id, func(u *models.User) { u.MutedUntil = until })
}

func (r *UserRepository) ApplyGrant(_ context.Context, id int64, g models.Grant) error {
	return r.update(id, func(u *models.User) { u.Apply(g) })
}

func (r *UserRepository) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.users, id)
	for k := range r.s.usage {
		if k.userID == id {
			delete(r.s.usage, k)
		}
	}
	r.s.events = slices.DeleteFunc(r.s.events, func(e event) bool { return e.userID == id })
	for referred, ref := range r.s.referrals {
		if ref.ReferrerID == id || ref.ReferredID == id {
			delete(r.s.referrals, referred)
		}
	}
	for _, k := range r.s.keys {
		if k.UsedBy != nil && *k.UsedBy == id {
			k.UsedBy = nil
		}
	}
	for charge, p := range r.s.payments {
		if p.UserID == id {
			delete(r.s.payments, charge)
		}
	}
	r.s.images = slices.DeleteFunc(r.s.images, func(img models.Image) bool { return img.UserID == id })
	return nil
}

func (r *UserRepository) sorted(match func(*models.User) bool) []models.User {
	var out []models.User
	for _, u := range r.s.users {
		if match(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (r *UserRepository) List(_ context.Context, limit, offset int) ([]models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return page(r.sorted(func(*models.User) bool { return true }), limit, offset), nil
}

func (r *UserRepository) Search(_ context.Context, q string, limit int) ([]models.User, error) {
	q = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(q), "@"))
	id, _ := strconv.ParseInt(q, 10, 64)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := r.sorted(func(u *models.User) bool {
		return (id != 0 && u.ID == id) ||
			strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.FirstName), q)
	})
	return page(out, limit, 0), nil
}

func (r *UserRepository) IDs(_ context.Context) ([]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []int64
	for id, u := range r.s.users {
		if !u.Banned {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *UserRepository) Analytics(_ context.Context, now time.Time) (models.Analytics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var a models.Analytics
	day := models.Day(now)
	weekAgo := now.AddDate(0, 0, -7)
	for _, u := range r.s.users {
		a.TotalUsers++
		if !u.LastActivity.Before(day) {
			a.ActiveToday++
		}
		if u.SubscriptionActive(now) {
			a.PremiumUsers++
		}
		if u.Banned {
			a.BannedUsers++
		}
		if !u.CreatedAt.Before(weekAgo) {
			a.NewThisWeek++
		}
	}
	a.TotalReferrals = len(r.s.referrals)
	for _, c := range r.s.usage {
		a.TotalGenerations += c.Generations
		a.TotalEdits += c.Edits
	}
	return a, nil
}

// Usage

type UsageRepository struct{ s *Store }

func (r *UsageRepository) Today(_ context.Context, userID int64, day time.Time) (models.UsageCounter, error) {
	day = models.Day(day)
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if c, ok := r.s.usage[usageKey{userID, day}]; ok {
		return *c, nil
	}
	return models.UsageCounter{UserID: userID, Day: day}, nil
}

func (r *UsageRepository) Window(_ context.Context, userID int64, action models.Action, since time.Time) (models.Window, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var w models.Window
	for _, e := range r.s.events {
		if e.userID != userID || e.action != action || !e.at.After(since) {
			continue
		}
		w.Count++
		if w.Oldest.IsZero() || e.at.Before(w.Oldest) {
			w.Oldest = e.at
		}
	}
	return w, nil
}

func (r *UsageRepository) Record(_ context.Context, userID int64, action models.Action, at time.Time) error {
	day := models.Day(at)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := usageKey{userID, day}
	c, ok := r.s.usage[k]
	if !ok {
		c = &models.UsageCounter{UserID: userID, Day: day}
		r.s.usage[k] = c
	}
	if action == models.ActionEdit {
		c.Edits++
	} else {
		c.Generations++
	}
	r.s.events = append(r.s.events, event{userID: userID, action: action, at: at})
	if u, ok := r.s.users[userID]; ok {
		u.TotalGenerations++
		monthly := 0
		for key, uc := range r.s.usage {
			if key.userID == userID && key.day.Year() == day.Year() && key.day.Month() == day.Month() {
				monthly += uc.Generations + uc.Edits
			}
		}
		u.MonthlyGenerations = monthly
	}
	return nil
}

func (r *UsageRepository) TotalEdits(_ context.Context, userID int64) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for k, c := range r.s.usage {
		if k.userID == userID {
			n += c.Edits
		}
	}
	return n, nil
}

func (r *UsageRepository) PruneEvents(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := len(r.s.events)
	r.s.events = slices.DeleteFunc(r.s.events, func(e event) bool { return e.at.Before(before) })
	return int64(n - len(r.s.events)), nil
}

// Keys

type KeyRepository struct{ s *Store }

func (r *KeyRepository) Create(_ context.Context, k *models.Key) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.keySeq++
	k.ID = r.s.keySeq
	c := *k
	r.s.keys[k.Token] = &c
	return nil
}

func (r *KeyRepository) List(_ context.Context, limit int) ([]models.Key, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Key, 0, len(r.s.keys))
	for _, k := range r.s.keys {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, 0), nil
}

func (r *KeyRepository) Redeem(_ context.Context, token string, userID int64, now time.Time) (*models.Key, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.keys[token]
	if !ok || k.Used {
		return nil, repository.ErrKeyUnavailable
	}
	u, ok := r.s.users[userID]
	if !ok {
		return nil, repository.ErrKeyUnavailable
	}
	u.Apply(k.Grant(now))
	usedBy, usedAt := userID, now
	k.Used, k.UsedBy, k.UsedAt = true, &usedBy, &usedAt
	c := *k
	return &c, nil
}

// Referrals

type ReferralRepository struct{ s *Store }

func (r *ReferralRepository) Register(_ context.Context, referrerID, referredID int64, defaults models.ReferralSettings, now time.Time) (*models.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	referrer, ok := r.s.users[referrerID]
	if !ok || referrer.Banned {
		return nil, repository.ErrReferrerIneligible
	}
	if _, exists := r.s.referrals[referredID]; exists {
		return nil, repository.ErrReferralExists
	}
	settings := defaults
	if n := len(r.s.settings); n > 0 {
		settings = r.s.settings[n-1]
	}
	ref := &models.Referral{
		ReferrerID: referrerID,
		ReferredID: referredID,
		GenReward:  settings.GenReward,
		EditReward: settings.EditReward,
		CreatedAt:  now,
	}
	r.s.referrals[referredID] = ref
	referrer.ReferralGenBonus += ref.GenReward
	referrer.ReferralEditBonus += ref.EditReward
	c := *ref
	return &c, nil
}

func (r *ReferralRepository) CountByReferrer(_ context.Context, referrerID int64) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, ref := range r.s.referrals {
		if ref.ReferrerID == referrerID {
			n++
		}
	}
	return n, nil
}

func (r *ReferralRepository) LatestSettings(_ context.Context) (*models.ReferralSettings, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if n := len(r.s.settings); n > 0 {
		s := r.s.settings[n-1]
		return &s, nil
	}
	return nil, nil
}

func (r *ReferralRepository) AppendSettings(_ context.Context, s *models.ReferralSettings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s.ID = int64(len(r.s.settings) + 1)
	r.s.settings = append(r.s.settings, *s)
	return nil
}

// Plans

type PlanRepository struct{ s *Store }

func (r *PlanRepository) List(_ context.Context) ([]models.Plan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.Plan, 0, len(r.s.plans))
	for _, p := range r.s.plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceRub < out[j].PriceRub })
	return out, nil
}

func (r *PlanRepository) Get(_ context.Context, name models.PlanName) (*models.Plan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.plans[name]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (r *PlanRepository) Upsert(_ context.Context, p *models.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *p
	r.s.plans[p.Name] = &c
	return nil
}

// Payments

type PaymentRepository struct{ s *Store }

func (r *PaymentRepository) Create(_ context.Context, p *models.Payment) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := p.Provider + "/" + p.ProviderCharge
	if _, exists := r.s.payments[key]; exists {
		return false, nil
	}
	r.s.paySeq++
	p.ID = r.s.paySeq
	c := *p
	r.s.payments[key] = &c
	return true, nil
}

// Images

type ImageRepository struct{ s *Store }

func (r *ImageRepository) Create(_ context.Context, img *models.Image) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.images = append(r.s.images, *img)
	return nil
}

func (r *ImageRepository) ListByUser(_ context.Context, userID int64, limit int) ([]models.Image, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.Image
	for i := len(r.s.images) - 1; i >= 0; i-- {
		if r.s.images[i].UserID == userID {
			out = append(out, r.s.images[i])
		}
	}
	return page(out, limit, 0), nil
}
