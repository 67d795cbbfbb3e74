// Package alert implements the Normal/Alerting state machine with its
// timed auto-reset and optional tone.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/dj-oyu/fightwatch/internal/logger"
)

// DefaultResetAfter is how long an alert episode lasts.
const DefaultResetAfter = 5 * time.Second

// State is the alert status.
type State int

const (
	Normal State = iota
	Alerting
)

func (s State) String() string {
	if s == Alerting {
		return "alerting"
	}
	return "normal"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition describes a state change. Episode numbers the alert episode
// being entered or left.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
	Episode uint64    `json:"episode"`
}

// Listener is notified after each transition. Reset transitions arrive on
// the timer goroutine.
type Listener func(Transition)

// Options configures a Controller.
type Options struct {
	Clock        Clock
	ResetAfter   time.Duration
	AudioEnabled func() bool // consulted on each Normal -> Alerting entry
	Player       Player      // nil disables the tone
}

// Controller owns the alert state. A fight-flagged result enters Alerting;
// only the reset timer leaves it.
type Controller struct {
	clock      Clock
	resetAfter time.Duration
	audio      func() bool
	player     Player

	mu         sync.Mutex
	state      State
	since      time.Time
	episodes   uint64
	generation uint64
	timer      Timer
	listeners  []Listener
}

// NewController creates a controller in the Normal state.
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.ResetAfter <= 0 {
		opts.ResetAfter = DefaultResetAfter
	}
	if opts.AudioEnabled == nil {
		opts.AudioEnabled = func() bool { return true }
	}
	return &Controller{
		clock:      opts.Clock,
		resetAfter: opts.ResetAfter,
		audio:      opts.AudioEnabled,
		player:     opts.Player,
		since:      opts.Clock.Now(),
	}
}

// OnTransition registers a listener.
func (c *Controller) OnTransition(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Observe feeds one successful result. It reports whether the result
// started a new alert episode. Fight results while Alerting change nothing.
func (c *Controller) Observe(fight bool) bool {
	c.mu.Lock()
	if !fight || c.state == Alerting {
		c.mu.Unlock()
		return false
	}

	now := c.clock.Now()
	c.state = Alerting
	c.since = now
	c.episodes++
	c.generation++
	gen := c.generation
	c.timer = c.clock.AfterFunc(c.resetAfter, func() { c.expire(gen) })
	tr := Transition{From: Normal, To: Alerting, At: now, Episode: c.episodes}
	listeners := c.listeners
	c.mu.Unlock()

	logger.Warn("Alert", "Fight detected, alerting (episode %d)", tr.Episode)
	if c.player != nil && c.audio() {
		go c.playTone()
	}
	notify(listeners, tr)
	return true
}

// expire is the reset timer callback. Callbacks from a superseded episode
// or session are ignored.
func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != Alerting {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	c.state = Normal
	c.since = now
	c.timer = nil
	tr := Transition{From: Alerting, To: Normal, At: now, Episode: c.episodes}
	listeners := c.listeners
	c.mu.Unlock()

	logger.Info("Alert", "Alert episode %d reset", tr.Episode)
	notify(listeners, tr)
}

// Reset cancels any pending timer and returns to Normal, for a new session.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
	wasAlerting := c.state == Alerting
	now := c.clock.Now()
	c.state = Normal
	c.since = now
	tr := Transition{From: Alerting, To: Normal, At: now, Episode: c.episodes}
	listeners := c.listeners
	c.mu.Unlock()

	if wasAlerting {
		notify(listeners, tr)
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the state, when it was entered and the episode count.
func (c *Controller) Status() (State, time.Time, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.since, c.episodes
}

func (c *Controller) playTone() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.player.Play(ctx); err != nil {
		logger.Debug("Alert", "Tone playback failed: %v", err)
	}
}

func notify(listeners []Listener, tr Transition) {
	for _, l := range listeners {
		l(tr)
	}
}
