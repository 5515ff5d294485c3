// Package history keeps a short rolling window of each user's recent
// prompts, used as context for follow-up requests. It is process-local.
package history

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	DefaultSize = 5
	DefaultTTL  = 2 * time.Hour
)

type entry struct {
	text string
	at   time.Time
}

type Store struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	items map[int64][]entry
	now   func() time.Time
}

func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{size: size, ttl: ttl, items: make(map[int64][]entry), now: time.Now}
}

func (s *Store) Add(userID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.live(userID), entry{text: text, at: s.now()})
	if len(list) > s.size {
		list = list[len(list)-s.size:]
	}
	s.items[userID] = list
}

// Context returns the user's recent prompts, oldest first.
func (s *Store) Context(userID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.live(userID)
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.text)
	}
	return out
}

func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	delete(s.items, userID)
	s.mu.Unlock()
}

// Sweep drops expired entries and returns how many users were evicted.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, list := range s.items {
		if len(list) == 0 || now.Sub(list[len(list)-1].at) > s.ttl {
			delete(s.items, id)
			n++
		}
	}
	return n
}

// Run sweeps expired entries every interval and returns nil once ctx is done.
func (s *Store) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			s.Sweep(t)
		}
	}
}

// live returns the user's unexpired entries. s.mu must be held.
func (s *Store) live(userID int64) []entry {
	list := s.items[userID]
	cutoff := s.now().Add(-s.ttl)
	i := 0
	for i < len(list) && list[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		list = append([]entry(nil), list[i:]...)
		s.items[userID] = list
	}
	return list
}
