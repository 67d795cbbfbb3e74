// Package dashboard serves the local monitoring UI: live annotated frames,
// session status, the detection log and the user controls.
package dashboard

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dj-oyu/fightwatch/internal/alert"
	"github.com/dj-oyu/fightwatch/internal/camera"
	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/internal/metrics"
	"github.com/dj-oyu/fightwatch/internal/monitor"
	"github.com/dj-oyu/fightwatch/internal/stats"
	"github.com/dj-oyu/fightwatch/internal/webrtc"
	"github.com/dj-oyu/fightwatch/pkg/types"
)

const (
	maxOfferBytes    = 64 << 10
	maxSettingsBytes = 4 << 10
	defaultIdleFrame = 5 * time.Second
)

// Peers answers WebRTC offers and pushes status payloads to the connected
// peers. *webrtc.Server implements it.
type Peers interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	Broadcast(data []byte)
}

// Options configures a Server.
type Options struct {
	Session        *monitor.Session
	StatusInterval time.Duration
	WebRTC         Peers // optional
	Metrics        *metrics.Metrics
}

// Server serves the dashboard endpoints for one session.
type Server struct {
	session *monitor.Session
	frames  *FrameBroadcaster
	status  *StatusBroadcaster
	offers  Peers
	metrics *metrics.Metrics

	blank     []byte
	idleFrame time.Duration
}

// NewServer wires the broadcasters to the session. Run must be called for
// status events to flow.
func NewServer(opts Options) (*Server, error) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	blank, err := camera.PlaceholderJPEG(640, 480, "waiting for frames")
	if err != nil {
		return nil, fmt.Errorf("render placeholder: %w", err)
	}

	var sink func([]byte)
	s := &Server{
		session:   opts.Session,
		frames:    NewFrameBroadcaster(),
		metrics:   opts.Metrics,
		blank:     blank,
		idleFrame: defaultIdleFrame,
	}
	if opts.WebRTC != nil {
		s.offers = opts.WebRTC
		sink = opts.WebRTC.Broadcast
	}
	s.status = NewStatusBroadcaster(opts.Session, opts.StatusInterval, sink)

	opts.Session.OnResult(func(res *types.DetectionResult, _ stats.Summary) {
		if res.Success() && len(res.AnnotatedFrame) > 0 {
			s.frames.Publish(res.AnnotatedFrame)
		}
		s.status.Notify()
	})
	opts.Session.Alert.OnTransition(func(alert.Transition) {
		s.status.Notify()
	})
	return s, nil
}

// Handler returns the dashboard router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/stream", s.handleStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/stream", s.handleStatusStream)
		r.Get("/history", s.handleHistory)
		r.Post("/settings", s.handleSettings)
		r.Post("/logs/clear", s.handleClearLog)
		r.Post("/webrtc/offer", s.handleWebRTCOffer)
	})
	return r
}

// Run publishes status events and serves addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.status.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming handlers end with the base context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Dashboard", "Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("dashboard shutdown: %w", err)
		}
		logger.Info("Dashboard", "Server stopped")
		return nil
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP", "%s %s %d (%v)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, msg, _ := s.session.Status()
	code := http.StatusOK
	if status == monitor.StatusCameraError {
		code = http.StatusServiceUnavailable
	}
	writeJSONWithStatus(w, map[string]any{
		"status":     status,
		"message":    msg,
		"session_id": s.session.ID,
	}, code)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	s.metrics.StreamClients.Add(1)
	defer s.metrics.StreamClients.Add(-1)

	streamMJPEG(r.Context(), w, frameCh, s.blank, s.idleFrame)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.session.Snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	s.metrics.StreamClients.Add(1)
	defer s.metrics.StreamClients.Add(-1)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	first, err := s.status.Current()
	if err != nil {
		logger.Warn("Dashboard", "Failed to serialize status: %v", err)
	}
	streamStatusEvents(r.Context(), w, first, eventCh, useProtobuf)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.session.Stats.Snapshot().History
	if r.URL.Query().Get("format") != "csv" {
		writeJSON(w, entries)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="fightwatch-%s.csv"`, s.session.ID))
	if err := writeHistoryCSV(w, entries); err != nil {
		logger.Debug("Dashboard", "History export interrupted: %v", err)
	}
}

func writeHistoryCSV(w io.Writer, entries []stats.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "type", "confidence", "people_count"}); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.Time.Format(time.RFC3339),
			string(e.Type),
			strconv.Itoa(e.Confidence),
			strconv.Itoa(e.PeopleCount),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// settingsRequest holds the fields a client wants to change. Absent fields
// are left alone.
type settingsRequest struct {
	SampleRateHz *float64 `json:"sample_rate_hz"`
	Sensitivity  *float64 `json:"sensitivity"`
	AudioAlerts  *bool    `json:"audio_alerts"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSettingsBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid settings"}, http.StatusBadRequest)
		return
	}

	settings := s.session.Settings
	values := settings.Get()
	if req.SampleRateHz != nil {
		values = settings.SetSampleRate(*req.SampleRateHz)
	}
	if req.Sensitivity != nil {
		values = settings.SetSensitivity(*req.Sensitivity)
	}
	if req.AudioAlerts != nil {
		values = settings.SetAudioAlerts(*req.AudioAlerts)
	}
	s.status.Notify()
	writeJSON(w, values)
}

func (s *Server) handleClearLog(w http.ResponseWriter, r *http.Request) {
	s.session.ClearLog()
	s.status.Notify()
	writeJSON(w, map[string]any{
		"status":  "cleared",
		"history": s.session.Stats.Snapshot().History,
	})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.offers == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil || len(body) == 0 {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.offers.HandleOffer(body)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, webrtc.ErrTooManyClients) {
			code = http.StatusServiceUnavailable
		}
		logger.Warn("Dashboard", "WebRTC offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("Dashboard", "Failed to write response: %v", err)
	}
}
