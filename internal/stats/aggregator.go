// Package stats folds detection results into rolling counters and the
// detection log.
package stats

import (
	"math"
	"sync"
	"time"

	"github.com/dj-oyu/fightwatch/pkg/types"
)

const (
	DefaultHistorySize     = 50
	DefaultConfidenceScale = 100

	personClass = "person"
	fpsWindow   = time.Second
)

// Summary describes one successful result as shown to the user.
type Summary struct {
	Confidence  int // round(mean confidence * scale), 0 without detections
	PeopleCount int
	Fight       bool
}

// Snapshot is a consistent copy of the counters.
type Snapshot struct {
	FramesProcessed   uint64    `json:"frames_processed"`
	FightEvents       uint64    `json:"fight_events"`
	ActiveAlerts      uint64    `json:"active_alerts"`
	AverageConfidence int       `json:"average_confidence"`
	LastConfidence    int       `json:"last_confidence"`
	MaxConfidence     int       `json:"max_confidence"`
	PeopleCount       int       `json:"people_count"`
	CurrentFPS        float64   `json:"current_fps"`
	LastUpdate        time.Time `json:"last_update"`
	History           []Entry   `json:"history"`
}

// Aggregator owns the session statistics. Writes happen on the scheduler
// goroutine; the mutex serves dashboard readers.
type Aggregator struct {
	mu    sync.RWMutex
	scale float64
	now   func() time.Time

	framesProcessed uint64
	fightEvents     uint64
	activeAlerts    uint64

	confidenceSum     int64
	confidenceResults int64
	lastConfidence    int
	maxConfidence     int
	peopleCount       int
	lastUpdate        time.Time

	recent  []time.Time // success timestamps inside the FPS window
	history *History
}

// NewAggregator creates an aggregator. confidenceScale converts the service's
// confidence values to display percent (100 for fractions, 1 for percent).
func NewAggregator(historySize int, confidenceScale float64) *Aggregator {
	if confidenceScale <= 0 {
		confidenceScale = DefaultConfidenceScale
	}
	return &Aggregator{
		scale:   confidenceScale,
		now:     time.Now,
		history: NewHistory(historySize),
	}
}

// Summarize computes the display values of a result without recording it.
func (a *Aggregator) Summarize(res *types.DetectionResult) Summary {
	s := Summary{Fight: res.FightDetected}
	if len(res.Detections) == 0 {
		return s
	}
	var sum float64
	for _, d := range res.Detections {
		sum += d.Confidence
		if d.Class == personClass {
			s.PeopleCount++
		}
	}
	s.Confidence = int(math.Round(sum / float64(len(res.Detections)) * a.scale))
	return s
}

// Record folds a successful result into the counters. Other outcomes are
// ignored and leave every counter unchanged.
func (a *Aggregator) Record(res *types.DetectionResult) (Summary, bool) {
	if !res.Success() {
		return Summary{}, false
	}
	s := a.Summarize(res)
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.framesProcessed++
	if s.Fight {
		a.fightEvents++
	}
	a.peopleCount = s.PeopleCount
	a.lastConfidence = s.Confidence
	if len(res.Detections) > 0 {
		a.confidenceSum += int64(s.Confidence)
		a.confidenceResults++
		a.maxConfidence = max(a.maxConfidence, s.Confidence)
	}
	a.lastUpdate = now
	a.recent = append(pruneBefore(a.recent, now.Add(-fpsWindow)), now)
	return s, true
}

// RecordAlert counts one Normal to Alerting transition.
func (a *Aggregator) RecordAlert() {
	a.mu.Lock()
	a.activeAlerts++
	a.mu.Unlock()
}

// Log prepends a history row for a recorded result.
func (a *Aggregator) Log(s Summary) {
	entryType := EntryNormal
	if s.Fight {
		entryType = EntryFight
	}
	now := a.now()

	a.mu.Lock()
	a.history.Add(Entry{Time: now, Type: entryType, Confidence: s.Confidence, PeopleCount: s.PeopleCount})
	a.mu.Unlock()
}

// ClearLog empties the history, leaving one placeholder. Counters are kept.
func (a *Aggregator) ClearLog() {
	now := a.now()
	a.mu.Lock()
	a.history.Clear(now)
	a.mu.Unlock()
}

// Snapshot returns a copy of all counters and the history.
func (a *Aggregator) Snapshot() Snapshot {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.recent = pruneBefore(a.recent, now.Add(-fpsWindow))
	snap := Snapshot{
		FramesProcessed: a.framesProcessed,
		FightEvents:     a.fightEvents,
		ActiveAlerts:    a.activeAlerts,
		LastConfidence:  a.lastConfidence,
		MaxConfidence:   a.maxConfidence,
		PeopleCount:     a.peopleCount,
		CurrentFPS:      float64(len(a.recent)),
		LastUpdate:      a.lastUpdate,
		History:         a.history.Entries(),
	}
	if a.confidenceResults > 0 {
		snap.AverageConfidence = int(math.Round(float64(a.confidenceSum) / float64(a.confidenceResults)))
	}
	return snap
}

// pruneBefore drops leading timestamps not after cutoff, reusing the slice.
func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
