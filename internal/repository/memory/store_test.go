package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/repository"
)

var now = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func seedUser(t *testing.T, s *Store, id int64) {
	t.Helper()
	if _, err := s.Users().Create(context.Background(), &models.User{ID: id, CreatedAt: now, LastActivity: now}); err != nil {
		t.Fatalf("Create(%d) error = %v", id, err)
	}
}

func TestKeyRedeemExactlyOnceUnderContention(t *testing.T) {
	ctx := context.Background()
	s := New()
	for id := int64(1); id <= 20; id++ {
		seedUser(t, s, id)
	}
	if err := s.Keys().Create(ctx, &models.Key{Token: "shared", CreatedAt: now}); err != nil {
		t.Fatalf("Create key error = %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for id := int64(1); id <= 20; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := s.Keys().Redeem(ctx, "shared", id, now)
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, repository.ErrKeyUnavailable):
				t.Errorf("Redeem() unexpected error = %v", err)
			}
		}(id)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("successful redemptions = %d, want 1", wins.Load())
	}
	entitled := 0
	for id := int64(1); id <= 20; id++ {
		u, _ := s.Users().Get(ctx, id)
		if u.SubscriptionPermanent {
			entitled++
		}
	}
	if entitled != 1 {
		t.Fatalf("entitled users = %d, want 1", entitled)
	}
}

func TestRedeemUnknownUserLeavesKeyUnused(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Keys().Create(ctx, &models.Key{Token: "k", CreatedAt: now})

	if _, err := s.Keys().Redeem(ctx, "k", 404, now); !errors.Is(err, repository.ErrKeyUnavailable) {
		t.Fatalf("Redeem() error = %v, want ErrKeyUnavailable", err)
	}
	keys, _ := s.Keys().List(ctx, 10)
	if len(keys) != 1 || keys[0].Used {
		t.Fatalf("key state = %+v, want unused", keys)
	}
}

func TestReferralRegisterOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, 1)
	seedUser(t, s, 2)
	defaults := models.ReferralSettings{GenReward: 3, EditReward: 3}

	if _, err := s.Referrals().Register(ctx, 1, 2, defaults, now); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := s.Referrals().Register(ctx, 1, 2, defaults, now); !errors.Is(err, repository.ErrReferralExists) {
		t.Fatalf("second Register() error = %v, want ErrReferralExists", err)
	}
	u, _ := s.Users().Get(ctx, 1)
	if u.ReferralGenBonus != 3 || u.ReferralEditBonus != 3 {
		t.Fatalf("bonus = %d/%d, want 3/3", u.ReferralGenBonus, u.ReferralEditBonus)
	}
}

func TestReferralRewardIsFrozenAtCrediting(t *testing.T) {
	ctx := context.Background()
	s := New()
	for id := int64(1); id <= 3; id++ {
		seedUser(t, s, id)
	}
	s.Referrals().AppendSettings(ctx, &models.ReferralSettings{GenReward: 5, EditReward: 1, CreatedAt: now})
	ref, err := s.Referrals().Register(ctx, 1, 2, models.ReferralSettings{GenReward: 3, EditReward: 3}, now)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	s.Referrals().AppendSettings(ctx, &models.ReferralSettings{GenReward: 10, EditReward: 10, CreatedAt: now.Add(time.Minute)})
	s.Referrals().Register(ctx, 1, 3, models.ReferralSettings{}, now)

	if ref.GenReward != 5 || ref.EditReward != 1 {
		t.Fatalf("reward = %d/%d, want 5/1", ref.GenReward, ref.EditReward)
	}
	u, _ := s.Users().Get(ctx, 1)
	if u.ReferralGenBonus != 15 || u.ReferralEditBonus != 11 {
		t.Fatalf("bonus = %d/%d, want 15/11", u.ReferralGenBonus, u.ReferralEditBonus)
	}
}

func TestReferrerMustBeEligible(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, 1)
	seedUser(t, s, 2)
	s.Users().SetBanned(ctx, 1, true)

	if _, err := s.Referrals().Register(ctx, 1, 2, models.ReferralSettings{}, now); !errors.Is(err, repository.ErrReferrerIneligible) {
		t.Fatalf("Register(banned) error = %v, want ErrReferrerIneligible", err)
	}
	if _, err := s.Referrals().Register(ctx, 99, 2, models.ReferralSettings{}, now); !errors.Is(err, repository.ErrReferrerIneligible) {
		t.Fatalf("Register(missing) error = %v, want ErrReferrerIneligible", err)
	}
}

func TestRecordAndWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, 1)
	usage := s.Usage()

	usage.Record(ctx, 1, models.ActionGeneration, now.Add(-90*time.Minute))
	usage.Record(ctx, 1, models.ActionGeneration, now.Add(-30*time.Minute))
	usage.Record(ctx, 1, models.ActionGeneration, now.Add(-10*time.Minute))
	usage.Record(ctx, 1, models.ActionEdit, now.Add(-5*time.Minute))

	today, _ := usage.Today(ctx, 1, now)
	if today.Generations != 3 || today.Edits != 1 {
		t.Fatalf("Today() = %+v, want 3 generations 1 edit", today)
	}
	w, _ := usage.Window(ctx, 1, models.ActionGeneration, now.Add(-time.Hour))
	if w.Count != 2 || !w.Oldest.Equal(now.Add(-30*time.Minute)) {
		t.Fatalf("Window() = %+v, want 2 events starting 30m ago", w)
	}
	u, _ := s.Users().Get(ctx, 1)
	if u.TotalGenerations != 4 || u.MonthlyGenerations != 4 {
		t.Fatalf("aggregates = %d/%d, want 4/4", u.TotalGenerations, u.MonthlyGenerations)
	}
	if n, _ := usage.PruneEvents(ctx, now.Add(-time.Hour)); n != 1 {
		t.Fatalf("PruneEvents() = %d, want 1", n)
	}
}

func TestConcurrentRecordKeepsEveryIncrement(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, 1)
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Usage().Record(ctx, 1, models.ActionGeneration, now); err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}()
	}
	wg.Wait()

	today, _ := s.Usage().Today(ctx, 1, now)
	if today.Generations != n {
		t.Fatalf("Today().Generations = %d, want %d", today.Generations, n)
	}
	w, _ := s.Usage().Window(ctx, 1, models.ActionGeneration, now.Add(-time.Hour))
	if w.Count != n {
		t.Fatalf("Window().Count = %d, want %d", w.Count, n)
	}
	u, _ := s.Users().Get(ctx, 1)
	if u.TotalGenerations != n || u.MonthlyGenerations != n {
		t.Fatalf("aggregates = %d/%d, want %d/%d", u.TotalGenerations, u.MonthlyGenerations, n, n)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, 1)
	seedUser(t, s, 2)
	s.Referrals().Register(ctx, 1, 2, models.ReferralSettings{GenReward: 1}, now)
	s.Usage().Record(ctx, 2, models.ActionGeneration, now)
	s.Images().Create(ctx, &models.Image{ID: "img", UserID: 2, CreatedAt: now})

	if err := s.Users().Delete(ctx, 2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Users().Delete(ctx, 2); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
	if n, _ := s.Referrals().CountByReferrer(ctx, 1); n != 0 {
		t.Fatalf("referrals after delete = %d, want 0", n)
	}
	if c, _ := s.Usage().Today(ctx, 2, now); c.Generations != 0 {
		t.Fatalf("usage after delete = %+v", c)
	}
	if imgs, _ := s.Images().ListByUser(ctx, 2, 10); len(imgs) != 0 {
		t.Fatalf("images after delete = %d", len(imgs))
	}
}
