package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCompositionFlow(t *testing.T) {
	c := NewController(time.Minute)
	const user = 42

	state, err := c.Begin(user, FlowComposition, nil)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if state != StateAwaitingFirstImage {
		t.Fatalf("Begin() state = %s, want %s", state, StateAwaitingFirstImage)
	}

	res, _ := c.Feed(user, Text("hello"))
	if res.Outcome != OutcomeReprompt || res.State != StateAwaitingFirstImage || res.Expects != InputImage {
		t.Fatalf("Feed(text) = %+v, want reprompt for first image", res)
	}

	res, _ = c.Feed(user, Image("file-a"))
	if res.Outcome != OutcomeAdvanced || res.State != StateAwaitingSecondImage {
		t.Fatalf("Feed(image a) = %+v, want advance to second image", res)
	}

	res, _ = c.Feed(user, Text("not an image"))
	if res.Outcome != OutcomeReprompt || res.State != StateAwaitingSecondImage {
		t.Fatalf("Feed(text) = %+v, want reprompt without losing progress", res)
	}

	res, _ = c.Feed(user, Image("file-b"))
	if res.State != StateAwaitingCompositionPrompt {
		t.Fatalf("Feed(image b) state = %s, want %s", res.State, StateAwaitingCompositionPrompt)
	}

	res, err = c.Feed(user, Text("ab"))
	if res.Outcome != OutcomeRejected || !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Feed(short prompt) = %+v, %v; want rejected", res, err)
	}
	if _, state, ok := c.Current(user); !ok || state != StateAwaitingCompositionPrompt {
		t.Fatalf("Current() = %s %v, want state unchanged after rejection", state, ok)
	}

	res, err = c.Feed(user, Text("  put the cat on the sofa  "))
	if err != nil {
		t.Fatalf("Feed(prompt) error = %v", err)
	}
	if res.Outcome != OutcomeComplete || res.Flow != FlowComposition {
		t.Fatalf("Feed(prompt) = %+v, want completion", res)
	}
	want := Data{FieldFirstImage: "file-a", FieldSecondImage: "file-b", FieldPrompt: "put the cat on the sofa"}
	for k, v := range want {
		if res.Data[k] != v {
			t.Fatalf("Data[%s] = %q, want %q", k, res.Data[k], v)
		}
	}
	if _, _, ok := c.Current(user); ok {
		t.Fatalf("Current() ok = true after completion, want idle")
	}
	if res, _ := c.Feed(user, Text("again")); res.Outcome != OutcomeIdle {
		t.Fatalf("Feed() after completion = %v, want idle", res.Outcome)
	}
}

func TestCancelAtEveryStateRestartsFresh(t *testing.T) {
	inputs := []Input{Image("a"), Image("b")}
	for depth := 0; depth <= len(inputs); depth++ {
		c := NewController(time.Minute)
		if _, err := c.Begin(1, FlowComposition, nil); err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		for _, in := range inputs[:depth] {
			if _, err := c.Feed(1, in); err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
		}
		if !c.Cancel(1) {
			t.Fatalf("depth %d: Cancel() = false, want true", depth)
		}
		if c.Cancel(1) {
			t.Fatalf("depth %d: second Cancel() = true, want idempotent false", depth)
		}
		state, _ := c.Begin(1, FlowComposition, nil)
		if state != StateAwaitingFirstImage {
			t.Fatalf("depth %d: re-Begin state = %s, want %s", depth, state, StateAwaitingFirstImage)
		}
		c.Feed(1, Image("c"))
		c.Feed(1, Image("d"))
		res, _ := c.Feed(1, Text("compose them"))
		if res.Data[FieldFirstImage] != "c" || res.Data[FieldSecondImage] != "d" {
			t.Fatalf("depth %d: residual data %v", depth, res.Data)
		}
	}
}

func TestCancelIdleIsNoop(t *testing.T) {
	c := NewController(time.Minute)
	if c.Cancel(7) {
		t.Fatalf("Cancel() on idle = true, want false")
	}
}

func TestBeginReplacesActiveSession(t *testing.T) {
	c := NewController(time.Minute)
	c.Begin(5, FlowComposition, nil)
	c.Feed(5, Image("a"))

	state, _ := c.Begin(5, FlowGenerate, nil)
	if state != StateAwaitingGenerationPrompt {
		t.Fatalf("Begin() = %s, want %s", state, StateAwaitingGenerationPrompt)
	}
	res, _ := c.Feed(5, Text("a red fox in the snow"))
	if res.Outcome != OutcomeComplete {
		t.Fatalf("Feed() = %v, want complete", res.Outcome)
	}
	if _, ok := res.Data[FieldFirstImage]; ok {
		t.Fatalf("Data carries previous flow's field: %v", res.Data)
	}
}

func TestSeedIsCarriedToCompletion(t *testing.T) {
	c := NewController(time.Minute)
	c.Begin(1, FlowAdminMute, Data{FieldTarget: "99"})

	res, err := c.Feed(1, Text("-5"))
	if res.Outcome != OutcomeRejected || err == nil {
		t.Fatalf("Feed(-5) = %v, %v; want rejected", res.Outcome, err)
	}
	res, _ = c.Feed(1, Text("15"))
	if res.Outcome != OutcomeComplete || res.Data[FieldTarget] != "99" || res.Data[FieldDuration] != "15" {
		t.Fatalf("Feed(15) = %+v", res)
	}
}

func TestCardFlow(t *testing.T) {
	c := NewController(time.Minute)
	c.Begin(3, FlowCard, nil)

	steps := []struct {
		in      Input
		outcome Outcome
	}{
		{Text("aliexpress"), OutcomeRejected},
		{Text("Ozon"), OutcomeAdvanced},
		{Text("Кружка"), OutcomeAdvanced},
		{Text("free"), OutcomeRejected},
		{Text("499,90"), OutcomeAdvanced},
		{Text("Керамическая кружка 350 мл"), OutcomeAdvanced},
		{Text("photo please"), OutcomeReprompt},
		{Image("photo-1"), OutcomeComplete},
	}
	var res Result
	for i, s := range steps {
		res, _ = c.Feed(3, s.in)
		if res.Outcome != s.outcome {
			t.Fatalf("step %d: Outcome = %v, want %v", i, res.Outcome, s.outcome)
		}
	}
	if res.Data[FieldPlatform] != "ozon" || res.Data[FieldPrice] != "499.9" || res.Data[FieldPhoto] != "photo-1" {
		t.Fatalf("Data = %v", res.Data)
	}
}

func TestSessionExpiry(t *testing.T) {
	c := NewController(10 * time.Minute)
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return clock })

	c.Begin(1, FlowGenerate, nil)
	c.Begin(2, FlowGenerate, nil)

	clock = clock.Add(11 * time.Minute)
	if res, _ := c.Feed(1, Text("a lighthouse")); res.Outcome != OutcomeIdle {
		t.Fatalf("Feed() on expired session = %v, want idle", res.Outcome)
	}
	if n := c.Sweep(clock); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

func TestConcurrentUsers(t *testing.T) {
	c := NewController(time.Minute)
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c.Begin(id, FlowComposition, nil)
			c.Feed(id, Image("x"))
			c.Feed(id, Image("y"))
			res, _ := c.Feed(id, Text("merge both"))
			if res.Outcome != OutcomeComplete {
				t.Errorf("user %d: Outcome = %v, want complete", id, res.Outcome)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

func TestParsePlanSettings(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
		gen     string
	}{
		{in: "399 50 25 30", gen: "50/день"},
		{in: "1499 100/h 30/h 30", gen: "безлимит (до 100/час)"},
		{in: "999 inf 40 30", gen: "безлимит"},
		{in: "0 50 25 30", wantErr: true},
		{in: "399 50 25", wantErr: true},
		{in: "399 -1 25 30", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlanSettings(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePlanSettings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.GenQuota.String() != tt.gen {
				t.Fatalf("GenQuota = %s, want %s", got.GenQuota, tt.gen)
			}
		})
	}
}

func TestNormalizeToken(t *testing.T) {
	tests := map[string]string{
		"  key-abc  ": "abc",
		"KEY-abc":     "abc",
		"abc":         "abc",
		"key-":        "key-",
	}
	for in, want := range tests {
		if got := NormalizeToken(in); got != want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunStopsCleanly(t *testing.T) {
	c := NewController(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}
