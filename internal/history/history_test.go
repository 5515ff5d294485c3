package history

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestAddKeepsLastN(t *testing.T) {
	s := New(3, time.Hour)
	for _, p := range []string{"one", "two", " ", "three", "four"} {
		s.Add(1, p)
	}
	if got, want := s.Context(1), []string{"two", "three", "four"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Context() = %v, want %v", got, want)
	}
	if got := s.Context(2); len(got) != 0 {
		t.Fatalf("Context(other) = %v, want empty", got)
	}
}

func TestClear(t *testing.T) {
	s := New(5, time.Hour)
	s.Add(1, "sunset")
	s.Clear(1)
	if got := s.Context(1); len(got) != 0 {
		t.Fatalf("Context() after Clear = %v", got)
	}
}

func TestExpiry(t *testing.T) {
	clock := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	s := New(5, 30*time.Minute)
	s.now = func() time.Time { return clock }

	s.Add(1, "old")
	clock = clock.Add(20 * time.Minute)
	s.Add(1, "new")
	s.Add(2, "other")
	clock = clock.Add(15 * time.Minute)

	if got, want := s.Context(1), []string{"new"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Context() = %v, want %v", got, want)
	}
	if n := s.Sweep(clock.Add(time.Hour)); n != 2 {
		t.Fatalf("Sweep() = %d, want 2", n)
	}
}

func TestRunReturnsNilOnShutdown(t *testing.T) {
	s := New(3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, time.Hour); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
}
