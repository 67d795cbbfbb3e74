package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/fightwatch/internal/alert"
	"github.com/dj-oyu/fightwatch/internal/config"
	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/internal/stats"
	"github.com/dj-oyu/fightwatch/pkg/types"
)

// ResultListener observes each applied result on the scheduler goroutine.
type ResultListener func(res *types.DetectionResult, summary stats.Summary)

// SessionOptions configures a Session.
type SessionOptions struct {
	Settings        *config.Settings
	HistorySize     int
	ConfidenceScale float64
	Alert           alert.Options // AudioEnabled defaults to the settings toggle
	Now             func() time.Time
}

// Session owns the per-session state: statistics, alert status and the
// status indicator. Results are applied by one goroutine; readers may be
// concurrent.
type Session struct {
	ID        string
	StartedAt time.Time

	Settings *config.Settings
	Stats    *stats.Aggregator
	Alert    *alert.Controller

	now    func() time.Time
	status indicator

	mu        sync.Mutex
	listeners []ResultListener
}

// NewSession creates a session in the Starting state.
func NewSession(opts SessionOptions) *Session {
	if opts.Settings == nil {
		opts.Settings = config.NewSettings(config.Values{
			SampleRateHz: config.DefaultSampleRateHz,
			Sensitivity:  config.DefaultSensitivity,
			AudioAlerts:  true,
		})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Alert.AudioEnabled == nil {
		opts.Alert.AudioEnabled = opts.Settings.AudioAlerts
	}

	now := opts.Now()
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: now,
		Settings:  opts.Settings,
		Stats:     stats.NewAggregator(opts.HistorySize, opts.ConfidenceScale),
		Alert:     alert.NewController(opts.Alert),
		now:       opts.Now,
	}
	s.status.since = now
	return s
}

// OnResult registers a listener for applied results.
func (s *Session) OnResult(l ResultListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Apply folds one dispatcher result into the session. Throttled results
// change nothing. Failures only update the status indicator.
func (s *Session) Apply(res *types.DetectionResult) {
	var summary stats.Summary

	switch res.Outcome {
	case types.OutcomeSuccess:
		summary, _ = s.Stats.Record(res)
		if s.Alert.Observe(res.FightDetected) {
			s.Stats.RecordAlert()
		}
		// While alerting only fight frames are logged.
		if res.FightDetected || s.Alert.State() != alert.Alerting {
			s.Stats.Log(summary)
		}
		s.status.set(StatusOnline, "", s.now())

	case types.OutcomeThrottled:
		return

	case types.OutcomeServiceError:
		logger.Warn("Session", "Inference service error: %s", res.ErrorMessage)
		s.status.set(StatusServiceError, res.ErrorMessage, s.now())

	case types.OutcomeTransportError:
		logger.Warn("Session", "Inference unreachable: %s", res.ErrorMessage)
		s.status.set(StatusNetworkError, res.ErrorMessage, s.now())
	}

	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, l := range listeners {
		l(res, summary)
	}
}

// MarkOnline is called once the camera is acquired.
func (s *Session) MarkOnline() {
	s.status.set(StatusOnline, "", s.now())
}

// SetCameraError records that the capture device could not be acquired or
// stopped delivering frames. The status stays CameraError for the rest of
// the session.
func (s *Session) SetCameraError(err error) {
	s.status.set(StatusCameraError, err.Error(), s.now())
}

// Status returns the indicator, its message and when it last changed.
func (s *Session) Status() (Status, string, time.Time) {
	return s.status.get()
}

// ClearLog empties the detection log. Counters are kept.
func (s *Session) ClearLog() {
	s.Stats.ClearLog()
	logger.Info("Session", "Detection log cleared")
}

// Close cancels any pending alert timer.
func (s *Session) Close() {
	s.Alert.Reset()
}

// Snapshot is a consistent view for the dashboard.
type Snapshot struct {
	SessionID     string         `json:"session_id"`
	StartedAt     time.Time      `json:"started_at"`
	Status        Status         `json:"status"`
	StatusMessage string         `json:"status_message,omitempty"`
	StatusSince   time.Time      `json:"status_since"`
	Alert         alert.State    `json:"alert"`
	AlertSince    time.Time      `json:"alert_since"`
	Settings      config.Values  `json:"settings"`
	Stats         stats.Snapshot `json:"stats"`
}

// Snapshot collects the current session state.
func (s *Session) Snapshot() Snapshot {
	status, msg, since := s.status.get()
	state, alertSince, _ := s.Alert.Status()
	return Snapshot{
		SessionID:     s.ID,
		StartedAt:     s.StartedAt,
		Status:        status,
		StatusMessage: msg,
		StatusSince:   since,
		Alert:         state,
		AlertSince:    alertSince,
		Settings:      s.Settings.Get(),
		Stats:         s.Stats.Snapshot(),
	}
}
