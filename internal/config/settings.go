package config

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultSampleRateHz = 20
	DefaultSensitivity  = 0.4

	MinSampleRateHz = 1
	MaxSampleRateHz = 60
)

// Values is a point-in-time copy of the live tunables.
type Values struct {
	SampleRateHz float64 `json:"sample_rate_hz"`
	Sensitivity  float64 `json:"sensitivity"`
	AudioAlerts  bool    `json:"audio_alerts"`
}

// SampleInterval is the minimum spacing between dispatched samples.
func (v Values) SampleInterval() time.Duration {
	return time.Duration(float64(time.Second) / v.SampleRateHz)
}

// Settings holds the user-adjustable tunables for one session. Writes come
// from explicit user input only; readers get change notifications.
//
// Sensitivity is stored and reported but not applied to detection results.
type Settings struct {
	mu     sync.RWMutex
	values Values
	subs   map[int]chan Values
	nextID int
}

// NewSettings returns settings initialised from v, clamped to the control ranges.
func NewSettings(v Values) *Settings {
	return &Settings{
		values: Values{
			SampleRateHz: clampRate(v.SampleRateHz),
			Sensitivity:  clampSensitivity(v.Sensitivity),
			AudioAlerts:  v.AudioAlerts,
		},
		subs: make(map[int]chan Values),
	}
}

// Get returns a copy of the current values.
func (s *Settings) Get() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values
}

// SampleRateHz returns the target sample rate.
func (s *Settings) SampleRateHz() float64 {
	return s.Get().SampleRateHz
}

// AudioAlerts reports whether the alert tone is enabled.
func (s *Settings) AudioAlerts() bool {
	return s.Get().AudioAlerts
}

// SetSampleRate updates the target sample rate. Out-of-range input is clamped.
func (s *Settings) SetSampleRate(hz float64) Values {
	return s.update(func(v *Values) { v.SampleRateHz = clampRate(hz) })
}

// SetSensitivity updates the advisory sensitivity, clamped to [0,1].
func (s *Settings) SetSensitivity(value float64) Values {
	return s.update(func(v *Values) { v.Sensitivity = clampSensitivity(value) })
}

// SetAudioAlerts toggles the alert tone.
func (s *Settings) SetAudioAlerts(enabled bool) Values {
	return s.update(func(v *Values) { v.AudioAlerts = enabled })
}

// Subscribe returns a channel that receives the latest values after each
// change. Slow subscribers only see the most recent value.
func (s *Settings) Subscribe() (int, <-chan Values) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Values, 1)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Settings) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Settings) update(apply func(*Values)) Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.values
	apply(&s.values)
	current := s.values
	if current == before {
		return current
	}

	for _, ch := range s.subs {
		// Replace any unread value so the subscriber sees the latest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- current:
		default:
		}
	}
	return current
}

func clampRate(hz float64) float64 {
	if math.IsNaN(hz) || hz <= 0 {
		return DefaultSampleRateHz
	}
	return math.Min(math.Max(hz, MinSampleRateHz), MaxSampleRateHz)
}

func clampSensitivity(value float64) float64 {
	if math.IsNaN(value) {
		return DefaultSensitivity
	}
	return math.Min(math.Max(value, 0), 1)
}
