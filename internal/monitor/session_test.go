package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/dj-oyu/fightwatch/internal/alert"
	"github.com/dj-oyu/fightwatch/internal/stats"
	"github.com/dj-oyu/fightwatch/pkg/types"
)

func newTestSession() *Session {
	return NewSession(SessionOptions{
		Alert: alert.Options{ResetAfter: time.Hour, AudioEnabled: func() bool { return false }},
	})
}

func fightResult() *types.DetectionResult {
	return &types.DetectionResult{
		Outcome:       types.OutcomeSuccess,
		FightDetected: true,
		Detections:    []types.Detection{{Class: "person", Confidence: 0.9}, {Class: "person", Confidence: 0.7}},
	}
}

func TestSessionStartsStarting(t *testing.T) {
	s := newTestSession()
	defer s.Close()
	if status, _, _ := s.Status(); status != StatusStarting {
		t.Fatalf("status = %s", status)
	}
	if s.ID == "" {
		t.Fatal("session has no id")
	}
}

func TestAlertEpisodeCountedOnce(t *testing.T) {
	s := newTestSession()
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.Apply(fightResult())
	}
	snap := s.Snapshot()
	if snap.Alert != alert.Alerting {
		t.Fatalf("alert = %s", snap.Alert)
	}
	if snap.Stats.ActiveAlerts != 1 {
		t.Fatalf("active alerts = %d, want 1", snap.Stats.ActiveAlerts)
	}
	if snap.Stats.FightEvents != 3 {
		t.Fatalf("fight events = %d, want 3", snap.Stats.FightEvents)
	}
}

func TestNormalFramesNotLoggedWhileAlerting(t *testing.T) {
	s := newTestSession()
	defer s.Close()

	s.Apply(&types.DetectionResult{Outcome: types.OutcomeSuccess})
	s.Apply(fightResult())
	s.Apply(&types.DetectionResult{Outcome: types.OutcomeSuccess})
	s.Apply(fightResult())

	snap := s.Snapshot()
	if snap.Stats.FramesProcessed != 4 {
		t.Fatalf("frames = %d", snap.Stats.FramesProcessed)
	}
	var fights, normals int
	for _, e := range snap.Stats.History {
		switch e.Type {
		case stats.EntryFight:
			fights++
		case stats.EntryNormal:
			normals++
		}
	}
	if fights != 2 || normals != 1 {
		t.Fatalf("history fights=%d normals=%d, want 2 and 1", fights, normals)
	}
}

func TestThrottledResultChangesNothing(t *testing.T) {
	s := newTestSession()
	defer s.Close()
	s.Apply(fightResult())
	before := s.Snapshot()

	called := false
	s.OnResult(func(*types.DetectionResult, stats.Summary) { called = true })
	s.Apply(&types.DetectionResult{Outcome: types.OutcomeThrottled})

	after := s.Snapshot()
	if after.Stats.FramesProcessed != before.Stats.FramesProcessed ||
		after.Stats.AverageConfidence != before.Stats.AverageConfidence ||
		after.Alert != before.Alert ||
		after.Status != before.Status {
		t.Fatalf("throttled result changed state: %+v -> %+v", before, after)
	}
	if called {
		t.Fatal("listener notified of throttled result")
	}
}

func TestStatusFollowsLatestOutcome(t *testing.T) {
	s := newTestSession()
	defer s.Close()

	steps := []struct {
		res  *types.DetectionResult
		want Status
	}{
		{&types.DetectionResult{Outcome: types.OutcomeServiceError, ErrorMessage: "model not loaded"}, StatusServiceError},
		{&types.DetectionResult{Outcome: types.OutcomeSuccess}, StatusOnline},
		{&types.DetectionResult{Outcome: types.OutcomeTransportError, ErrorMessage: "connection refused"}, StatusNetworkError},
		{&types.DetectionResult{Outcome: types.OutcomeThrottled}, StatusNetworkError},
		{&types.DetectionResult{Outcome: types.OutcomeSuccess}, StatusOnline},
	}
	for i, step := range steps {
		s.Apply(step.res)
		status, msg, _ := s.Status()
		if status != step.want {
			t.Fatalf("step %d: status = %s, want %s", i, status, step.want)
		}
		if step.res.Failed() && msg != step.res.ErrorMessage {
			t.Fatalf("step %d: message = %q", i, msg)
		}
	}
	if n := s.Snapshot().Stats.FramesProcessed; n != 2 {
		t.Fatalf("frames = %d, want 2", n)
	}
}

func TestCameraErrorIsTerminal(t *testing.T) {
	s := newTestSession()
	defer s.Close()
	s.SetCameraError(errors.New("no device"))
	s.MarkOnline()
	if status, msg, _ := s.Status(); status != StatusCameraError || msg != "no device" {
		t.Fatalf("status = %s %q", status, msg)
	}
}

func TestListenersReceiveSummary(t *testing.T) {
	s := newTestSession()
	defer s.Close()

	var got stats.Summary
	s.OnResult(func(_ *types.DetectionResult, sum stats.Summary) { got = sum })
	s.Apply(fightResult())
	if got.Confidence != 80 || got.PeopleCount != 2 || !got.Fight {
		t.Fatalf("summary = %+v", got)
	}
}

func TestClearLogKeepsCounters(t *testing.T) {
	s := newTestSession()
	defer s.Close()
	s.Apply(fightResult())
	s.ClearLog()
	snap := s.Snapshot()
	if snap.Stats.FramesProcessed != 1 {
		t.Fatalf("frames = %d", snap.Stats.FramesProcessed)
	}
	for _, e := range snap.Stats.History {
		if e.Type != stats.EntryCleared {
			t.Fatalf("history entry %+v survived clear", e)
		}
	}
}
