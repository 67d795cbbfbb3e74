// Package monitor runs the capture loop: it samples the camera at the
// configured rate, keeps at most one inference request in flight and applies
// results to the session in dispatch order.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dj-oyu/fightwatch/internal/camera"
	"github.com/dj-oyu/fightwatch/internal/config"
	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/internal/metrics"
	"github.com/dj-oyu/fightwatch/pkg/types"
)

// DefaultTickInterval approximates a 60 Hz display refresh.
const DefaultTickInterval = 16 * time.Millisecond

// Dispatcher sends one frame for inference. A non-nil error means the frame
// was rejected before any request was made.
type Dispatcher interface {
	Dispatch(ctx context.Context, frame types.Frame) (types.DetectionResult, error)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Source       camera.Source
	Dispatcher   Dispatcher
	Session      *Session
	Metrics      *metrics.Metrics // optional
	TickInterval time.Duration
}

// Scheduler drives the tick loop. One goroutine owns the loop and applies
// results; each dispatched frame runs on its own goroutine.
type Scheduler struct {
	source     camera.Source
	dispatcher Dispatcher
	session    *Session
	metrics    *metrics.Metrics
	tick       time.Duration

	// Owned by the loop goroutine.
	interval     time.Duration
	lastDispatch time.Time
	lastSeq      uint64
	lost         error

	busy        atomic.Bool
	results     chan types.DetectionResult
	wg          sync.WaitGroup
	snapshotLog rate.Sometimes
}

// NewScheduler creates a scheduler. The sampling interval follows the
// session settings.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Scheduler{
		source:      opts.Source,
		dispatcher:  opts.Dispatcher,
		session:     opts.Session,
		metrics:     opts.Metrics,
		tick:        opts.TickInterval,
		interval:    opts.Session.Settings.Get().SampleInterval(),
		results:     make(chan types.DetectionResult, 1),
		snapshotLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Run acquires the camera and ticks until ctx is cancelled. If the camera
// cannot be acquired the session enters CameraError, no tick ever runs and
// the *camera.AcquisitionError is returned. Losing the device mid-session
// stops the loop the same way.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.source.Start(ctx); err != nil {
		s.session.SetCameraError(err)
		logger.Error("Scheduler", "Camera unavailable: %v", err)
		return err
	}
	defer s.source.Close()
	s.session.MarkOnline()

	subID, changes := s.session.Settings.Subscribe()
	defer s.session.Settings.Unsubscribe(subID)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	logger.Info("Scheduler", "Capture loop started (tick=%v, rate=%.0f Hz)",
		s.tick, s.session.Settings.SampleRateHz())

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case v := <-changes:
			s.applySettings(v)
		case res := <-s.results:
			s.apply(&res)
		case now := <-ticker.C:
			s.tickAt(ctx, now)
			if s.lost != nil {
				s.shutdown()
				return s.lost
			}
		}
	}
}

// applySettings retunes the interval gate to a new sample rate.
func (s *Scheduler) applySettings(v config.Values) {
	s.interval = v.SampleInterval()
	logger.Info("Scheduler", "Sample rate set to %.0f Hz (interval %v)", v.SampleRateHz, v.SampleInterval())
}

// tickAt runs one scheduling decision and reports whether a frame was
// handed to the dispatcher.
func (s *Scheduler) tickAt(ctx context.Context, now time.Time) bool {
	s.metrics.Ticks.Add(1)

	if s.busy.Load() {
		s.metrics.TicksSkippedBusy.Add(1)
		return false
	}
	if !s.lastDispatch.IsZero() && now.Sub(s.lastDispatch) < s.interval {
		s.metrics.TicksSkippedRate.Add(1)
		return false
	}

	frame, err := s.source.Snapshot()
	if err != nil || frame.Empty() {
		s.metrics.SnapshotErrors.Add(1)
		var acqErr *camera.AcquisitionError
		switch {
		case errors.As(err, &acqErr):
			s.lost = err
			s.session.SetCameraError(err)
			logger.Error("Scheduler", "Camera lost: %v", err)
		case err != nil && !errors.Is(err, camera.ErrNoFrame):
			s.snapshotLog.Do(func() { logger.Debug("Scheduler", "Snapshot failed: %v", err) })
		}
		return false
	}
	// Sampling faster than the camera delivers returns the same frame again.
	if frame.Seq != 0 && frame.Seq == s.lastSeq {
		s.metrics.TicksSkippedStale.Add(1)
		return false
	}

	s.lastDispatch = now
	s.lastSeq = frame.Seq
	s.busy.Store(true)
	s.metrics.RequestsInFlight.Add(1)
	s.wg.Add(1)
	go s.dispatch(context.WithoutCancel(ctx), frame)
	return true
}

func (s *Scheduler) dispatch(ctx context.Context, frame types.Frame) {
	defer s.wg.Done()

	res, err := s.dispatcher.Dispatch(ctx, frame)
	s.metrics.RequestsInFlight.Add(-1)
	if err != nil {
		logger.Debug("Scheduler", "Frame #%d not sent: %v", frame.Seq, err)
		s.busy.Store(false)
		return
	}
	s.metrics.FramesDispatched.Add(1)
	s.metrics.FrameBytes.Store(uint64(len(frame.Data)))

	// Capacity 1 and a single request in flight: never blocks.
	s.results <- res
}

// apply routes a result to the session, then reopens the in-flight guard.
func (s *Scheduler) apply(res *types.DetectionResult) {
	s.metrics.ObserveInference(res.Latency)
	switch res.Outcome {
	case types.OutcomeSuccess:
		s.metrics.ResultsSuccess.Add(1)
	case types.OutcomeThrottled:
		s.metrics.ResultsThrottled.Add(1)
	case types.OutcomeServiceError:
		s.metrics.ResultsServiceErr.Add(1)
	case types.OutcomeTransportError:
		s.metrics.ResultsTransportErr.Add(1)
	}

	s.session.Apply(res)
	s.busy.Store(false)
}

// shutdown waits for an outstanding request to finish and discards its result.
func (s *Scheduler) shutdown() {
	s.wg.Wait()
	select {
	case <-s.results:
		s.metrics.ResultsDiscarded.Add(1)
		logger.Debug("Scheduler", "Discarded result received after shutdown")
	default:
	}
	logger.Info("Scheduler", "Capture loop stopped")
}
