package stats

import (
	"testing"
	"time"

	"github.com/dj-oyu/fightwatch/pkg/types"
)

func success(fight bool, dets ...types.Detection) *types.DetectionResult {
	return &types.DetectionResult{Outcome: types.OutcomeSuccess, Detections: dets, FightDetected: fight}
}

func det(class string, conf float64) types.Detection {
	return types.Detection{Class: class, Confidence: conf}
}

func TestPeopleCountAndConfidence(t *testing.T) {
	a := NewAggregator(DefaultHistorySize, DefaultConfidenceScale)
	s, ok := a.Record(success(false,
		det("person", 0.9),
		det("person", 0.5),
		det("car", 0.8),
	))
	if !ok {
		t.Fatal("success not recorded")
	}
	if s.PeopleCount != 2 {
		t.Errorf("people = %d, want 2", s.PeopleCount)
	}
	if s.Confidence != 73 {
		t.Errorf("confidence = %d, want 73", s.Confidence)
	}
	snap := a.Snapshot()
	if snap.PeopleCount != 2 || snap.LastConfidence != 73 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestAverageConfidenceIsMeanOfResultMeans(t *testing.T) {
	a := NewAggregator(DefaultHistorySize, DefaultConfidenceScale)
	a.Record(success(false, det("person", 0.8)))
	a.Record(success(false, det("person", 0.5), det("person", 0.7))) // 60
	a.Record(success(false, det("person", 1.0)))
	a.Record(success(false)) // no detections: excluded from the average

	snap := a.Snapshot()
	if snap.AverageConfidence != 80 {
		t.Fatalf("average = %d, want 80", snap.AverageConfidence)
	}
	if snap.FramesProcessed != 4 {
		t.Fatalf("frames = %d, want 4", snap.FramesProcessed)
	}
	if snap.MaxConfidence != 100 {
		t.Fatalf("max = %d", snap.MaxConfidence)
	}
	if snap.LastConfidence != 0 {
		t.Fatalf("last confidence = %d, want 0 for empty result", snap.LastConfidence)
	}
}

func TestPercentScale(t *testing.T) {
	a := NewAggregator(DefaultHistorySize, 1)
	s, _ := a.Record(success(false, det("person", 87.5), det("person", 62.25)))
	if s.Confidence != 75 {
		t.Fatalf("confidence = %d, want 75", s.Confidence)
	}
}

func TestNonSuccessOutcomesIgnored(t *testing.T) {
	a := NewAggregator(DefaultHistorySize, DefaultConfidenceScale)
	a.Record(success(true, det("person", 0.9)))
	before := a.Snapshot()

	for _, o := range []types.Outcome{types.OutcomeThrottled, types.OutcomeServiceError, types.OutcomeTransportError} {
		if _, ok := a.Record(&types.DetectionResult{Outcome: o, FightDetected: true}); ok {
			t.Fatalf("%s recorded", o)
		}
	}

	after := a.Snapshot()
	if after.FramesProcessed != before.FramesProcessed ||
		after.FightEvents != before.FightEvents ||
		after.AverageConfidence != before.AverageConfidence {
		t.Fatalf("counters changed: before %+v after %+v", before, after)
	}
}

func TestClearLogKeepsCounters(t *testing.T) {
	a := NewAggregator(DefaultHistorySize, DefaultConfidenceScale)
	for i := range 3 {
		s, _ := a.Record(success(i == 1, det("person", 0.5)))
		a.Log(s)
	}
	a.ClearLog()

	snap := a.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Type != EntryCleared {
		t.Fatalf("history after clear = %+v", snap.History)
	}
	if snap.FramesProcessed != 3 || snap.FightEvents != 1 {
		t.Fatalf("counters changed by clear: %+v", snap)
	}

	s, _ := a.Record(success(false, det("person", 0.5)))
	a.Log(s)
	snap = a.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Type != EntryNormal {
		t.Fatalf("placeholder not replaced: %+v", snap.History)
	}
}

func TestCurrentFPSWindow(t *testing.T) {
	a := NewAggregator(DefaultHistorySize, DefaultConfidenceScale)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	a.now = func() time.Time { return now }

	for i := range 5 {
		now = base.Add(time.Duration(i) * 100 * time.Millisecond)
		a.Record(success(false))
	}
	if fps := a.Snapshot().CurrentFPS; fps != 5 {
		t.Fatalf("fps = %v, want 5", fps)
	}

	now = base.Add(1250 * time.Millisecond)
	if fps := a.Snapshot().CurrentFPS; fps != 2 {
		t.Fatalf("fps = %v, want 2 (samples at 300ms and 400ms)", fps)
	}
}

func TestRecordAlert(t *testing.T) {
	a := NewAggregator(DefaultHistorySize, DefaultConfidenceScale)
	a.RecordAlert()
	a.RecordAlert()
	if n := a.Snapshot().ActiveAlerts; n != 2 {
		t.Fatalf("active alerts = %d", n)
	}
}
