// Package workflow tracks per-user progress through multi-step flows.
//
// Sessions live in process memory only and are lost on restart. Idle
// sessions are evicted after a TTL, either lazily on access or by Sweep.
package workflow

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

const DefaultSessionTTL = 30 * time.Minute

type Outcome int

const (
	// OutcomeIdle means no session is active; route the input elsewhere.
	OutcomeIdle Outcome = iota
	// OutcomeReprompt means the input had the wrong shape for the state.
	OutcomeReprompt
	// OutcomeRejected means the input failed validation.
	OutcomeRejected
	OutcomeAdvanced
	// OutcomeComplete means the flow finished; the session is already gone.
	OutcomeComplete
)

type Input struct {
	Kind  InputKind
	Text  string
	Image string
}

func Text(s string) Input { return Input{Kind: InputText, Text: s} }

func Image(ref string) Input { return Input{Kind: InputImage, Image: ref} }

func (in Input) value() string {
	if in.Kind == InputImage {
		return in.Image
	}
	return in.Text
}

type Data map[string]string

type Result struct {
	Outcome Outcome
	Flow    Flow
	// State is the state the user is in after the input.
	State State
	// Expects is the input shape of State.
	Expects InputKind
	// Data is the collected bundle, set only on completion.
	Data Data
}

type session struct {
	flow      Flow
	step      int
	data      Data
	touchedAt time.Time
}

func (s *session) current() Step {
	return flows[s.flow][s.step]
}

// Controller is the per-user session arena.
type Controller struct {
	mu       sync.Mutex
	sessions map[int64]*session
	ttl      time.Duration
	now      func() time.Time
}

func NewController(ttl time.Duration) *Controller {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Controller{
		sessions: make(map[int64]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Begin starts flow for the user, discarding any session in progress.
// seed pre-populates session data (e.g. the target of an admin action).
func (c *Controller) Begin(userID int64, flow Flow, seed Data) (State, error) {
	steps, ok := flows[flow]
	if !ok || len(steps) == 0 {
		return StateIdle, fmt.Errorf("unknown flow %q", flow)
	}
	data := make(Data, len(steps)+len(seed))
	maps.Copy(data, seed)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[userID] = &session{flow: flow, data: data, touchedAt: c.now()}
	return steps[0].State, nil
}

// Cancel drops the user's session. It reports whether one existed.
func (c *Controller) Cancel(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.lookup(userID)
	delete(c.sessions, userID)
	return s != nil
}

// Current returns the user's flow and state; ok is false when idle.
func (c *Controller) Current(userID int64) (Flow, State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.lookup(userID)
	if s == nil {
		return "", StateIdle, false
	}
	return s.flow, s.current().State, true
}

// Feed applies one input to the user's session.
func (c *Controller) Feed(userID int64, in Input) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.lookup(userID)
	if s == nil {
		return Result{Outcome: OutcomeIdle, State: StateIdle}, nil
	}
	step := s.current()
	res := Result{Flow: s.flow, State: step.State, Expects: step.Accepts}

	if in.Kind != step.Accepts {
		res.Outcome = OutcomeReprompt
		return res, nil
	}
	value := in.value()
	if step.Validate != nil {
		v, err := step.Validate(value)
		if err != nil {
			res.Outcome = OutcomeRejected
			return res, err
		}
		value = v
	}

	s.data[step.Field] = value
	s.touchedAt = c.now()

	if s.step+1 >= len(flows[s.flow]) {
		delete(c.sessions, userID)
		res.Outcome = OutcomeComplete
		res.State = StateIdle
		res.Expects = 0
		res.Data = s.data
		return res, nil
	}

	s.step++
	next := s.current()
	res.Outcome = OutcomeAdvanced
	res.State = next.State
	res.Expects = next.Accepts
	return res, nil
}

// Len returns the number of live sessions, expired ones included until swept.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Sweep evicts sessions idle for longer than the TTL.
func (c *Controller) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, s := range c.sessions {
		if now.Sub(s.touchedAt) > c.ttl {
			delete(c.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			c.mu.Unlock()
			c.Sweep(now)
		}
	}
}

// lookup returns the live session, evicting it if expired. c.mu must be held.
func (c *Controller) lookup(userID int64) *session {
	s, ok := c.sessions[userID]
	if !ok {
		return nil
	}
	if c.now().Sub(s.touchedAt) > c.ttl {
		delete(c.sessions, userID)
		return nil
	}
	return s
}
