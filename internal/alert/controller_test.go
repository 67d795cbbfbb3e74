package alert

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due callbacks outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

// fire runs a timer's callback regardless of its state, as a late runtime
// timer would.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	f := c.timers[i].f
	c.mu.Unlock()
	f()
}

type countingPlayer struct {
	mu    sync.Mutex
	plays int
	done  chan struct{}
}

func (p *countingPlayer) Play(context.Context) error {
	p.mu.Lock()
	p.plays++
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func TestRepeatedFightsCountOnce(t *testing.T) {
	clock := newFakeClock()
	c := NewController(Options{Clock: clock})

	var transitions []Transition
	c.OnTransition(func(tr Transition) { transitions = append(transitions, tr) })

	entered := 0
	for range 10 {
		if c.Observe(true) {
			entered++
		}
		clock.Advance(100 * time.Millisecond)
	}
	if entered != 1 {
		t.Fatalf("entered %d times, want 1", entered)
	}
	if c.State() != Alerting {
		t.Fatalf("state = %s", c.State())
	}
	if len(transitions) != 1 || transitions[0].To != Alerting {
		t.Fatalf("transitions = %+v", transitions)
	}
}

func TestFightsDoNotExtendTimer(t *testing.T) {
	clock := newFakeClock()
	c := NewController(Options{Clock: clock})

	c.Observe(true)
	clock.Advance(4 * time.Second)
	c.Observe(true)
	clock.Advance(time.Second)

	if c.State() != Normal {
		t.Fatalf("state = %s, want reset exactly 5s after entry", c.State())
	}
}

func TestNormalResultsDoNotReset(t *testing.T) {
	clock := newFakeClock()
	c := NewController(Options{Clock: clock})

	c.Observe(true)
	for range 20 {
		c.Observe(false)
	}
	if c.State() != Alerting {
		t.Fatal("normal results ended the alert episode")
	}
	clock.Advance(DefaultResetAfter)
	if c.State() != Normal {
		t.Fatal("timer did not reset the alert")
	}
}

func TestReentryAfterReset(t *testing.T) {
	clock := newFakeClock()
	c := NewController(Options{Clock: clock})

	if !c.Observe(true) {
		t.Fatal("first fight did not alert")
	}
	clock.Advance(DefaultResetAfter)
	if !c.Observe(true) {
		t.Fatal("fight after reset did not start a new episode")
	}
	_, _, episodes := c.Status()
	if episodes != 2 {
		t.Fatalf("episodes = %d, want 2", episodes)
	}
}

func TestStaleTimerIgnoredAfterReset(t *testing.T) {
	clock := newFakeClock()
	c := NewController(Options{Clock: clock})

	c.Observe(true)
	c.Reset() // new session
	if c.State() != Normal {
		t.Fatal("Reset did not return to Normal")
	}

	c.Observe(true) // second episode, timer index 1
	clock.fire(0)   // the first episode's callback arrives late
	if c.State() != Alerting {
		t.Fatal("stale timer callback ended the new episode")
	}

	clock.Advance(DefaultResetAfter)
	if c.State() != Normal {
		t.Fatal("current timer did not reset")
	}
}

func TestToneOnlyWhenAudioEnabled(t *testing.T) {
	clock := newFakeClock()
	player := &countingPlayer{done: make(chan struct{}, 4)}
	audio := false
	c := NewController(Options{
		Clock:        clock,
		Player:       player,
		AudioEnabled: func() bool { return audio },
	})

	c.Observe(true)
	clock.Advance(DefaultResetAfter)

	audio = true
	c.Observe(true)
	select {
	case <-player.done:
	case <-time.After(2 * time.Second):
		t.Fatal("tone not played")
	}

	player.mu.Lock()
	defer player.mu.Unlock()
	if player.plays != 1 {
		t.Fatalf("plays = %d, want 1", player.plays)
	}
}

func TestSynthesizeToneEnvelope(t *testing.T) {
	samples := SynthesizeTone(ToneSampleRate)
	if want := ToneSampleRate / 2; len(samples) != want {
		t.Fatalf("len = %d, want %d", len(samples), want)
	}

	peak := func(from, to int) float64 {
		var m float64
		for _, s := range samples[from:to] {
			m = math.Max(m, math.Abs(float64(s)))
		}
		return m / math.MaxInt16
	}
	head := peak(0, 200)
	tail := peak(len(samples)-200, len(samples))
	if head < 0.25 || head > 0.31 {
		t.Fatalf("initial gain %.3f, want about 0.3", head)
	}
	if tail > 0.02 {
		t.Fatalf("final gain %.3f, want about 0.01", tail)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	samples := []int16{0, 1000, -1000}
	wav := EncodeWAV(samples, 8000)

	if len(wav) != 44+len(samples)*2 {
		t.Fatalf("len = %d", len(wav))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:16], []byte("WAVEfmt ")) {
		t.Fatalf("bad magic %q", wav[:16])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Fatalf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 6 {
		t.Fatalf("data size = %d", size)
	}
	if v := int16(binary.LittleEndian.Uint16(wav[46:48])); v != 1000 {
		t.Fatalf("second sample = %d", v)
	}
}

func TestNewPlayerModes(t *testing.T) {
	p, cleanup, err := NewPlayer("off")
	cleanup()
	if err != nil || p != nil {
		t.Fatalf("off: %v %v", p, err)
	}
	p, cleanup, err = NewPlayer("bell")
	cleanup()
	if _, ok := p.(*BellPlayer); !ok || err != nil {
		t.Fatalf("bell: %T %v", p, err)
	}
	if _, _, err := NewPlayer("midi"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestBellPlayer(t *testing.T) {
	var buf bytes.Buffer
	if err := (&BellPlayer{W: &buf}).Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "\a" {
		t.Fatalf("wrote %q", buf.String())
	}
}
