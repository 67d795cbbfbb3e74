package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/fightwatch/internal/alert"
	"github.com/dj-oyu/fightwatch/internal/camera"
	"github.com/dj-oyu/fightwatch/internal/config"
	"github.com/dj-oyu/fightwatch/internal/dashboard"
	"github.com/dj-oyu/fightwatch/internal/inference"
	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/internal/metrics"
	"github.com/dj-oyu/fightwatch/internal/monitor"
	"github.com/dj-oyu/fightwatch/internal/notify"
	"github.com/dj-oyu/fightwatch/internal/webrtc"
)

var (
	// Command-line flags. Empty values keep the configuration file setting.
	configPath   = flag.String("config", "", "Config file (default: fightwatch.yaml in . or ./configs)")
	sourceFlag   = flag.String("source", "", "Frame source (ffmpeg, pattern, dir)")
	inferenceURL = flag.String("inference", "", "Inference service base URL")
	httpAddr     = flag.String("http", "", "Dashboard address")
	logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor     = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Logger.Color)
	// Library output through the standard log package lands in the same stream.
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
	logger.Info("Main", "Stopped")
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Camera.Source = *sourceFlag
		case "inference":
			cfg.Inference.URL = *inferenceURL
		case "http":
			cfg.Dashboard.Addr = *httpAddr
		case "log-level":
			cfg.Logger.Level = *logLevel
		case "log-color":
			cfg.Logger.Color = *logColor
		}
	})
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Info("Main", "Fightwatch starting...")
	logger.Info("Main", "  Source: %s (%s)", cfg.Camera.Source, cfg.Camera.Device)
	logger.Info("Main", "  Inference: %s", cfg.Inference.URL)
	logger.Info("Main", "  Dashboard: %s", cfg.Dashboard.Addr)

	m := metrics.New()
	startSideServers(cfg.Metrics, m)

	source, err := camera.New(cfg.Camera)
	if err != nil {
		return err
	}
	dispatcher := inference.New(inference.Config{
		URL:             cfg.Inference.URL,
		Timeout:         cfg.Inference.Timeout,
		JPEGQuality:     cfg.Inference.JPEGQuality,
		MaxWidth:        cfg.Inference.MaxWidth,
		BreakerFailures: cfg.Inference.BreakerFailures,
		BreakerCooldown: cfg.Inference.BreakerCooldown,
	}, nil)
	logger.Info("Main", "  Endpoint: %s", dispatcher.Endpoint())

	player, cleanupTone, err := alert.NewPlayer(cfg.Monitor.Tone)
	if err != nil {
		return err
	}
	defer cleanupTone()

	session := monitor.NewSession(monitor.SessionOptions{
		Settings:        config.NewSettings(cfg.InitialValues()),
		HistorySize:     cfg.Monitor.HistorySize,
		ConfidenceScale: cfg.Inference.ConfidenceScale,
		Alert: alert.Options{
			ResetAfter: cfg.Monitor.AlertReset,
			Player:     player,
		},
	})
	defer session.Close()
	logger.Info("Main", "Session %s", session.ID)

	session.Alert.OnTransition(func(tr alert.Transition) {
		m.SetAlerting(tr.To == alert.Alerting)
		if tr.To == alert.Alerting {
			m.AlertTransitions.Add(1)
			logger.Warn("Main", "Fight detected (episode %d)", tr.Episode)
		} else {
			logger.Info("Main", "Alert cleared (episode %d)", tr.Episode)
		}
	})

	if cfg.Redis.Addr != "" {
		rdb, err := notify.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// Alerts still show locally.
			logger.Warn("Main", "Redis disabled: %v", err)
		} else {
			defer rdb.Close()
			pub := notify.NewPublisher(rdb, cfg.Redis.Channel, session.ID, cfg.Camera.Device)
			defer pub.Close()
			session.Alert.OnTransition(pub.HandleTransition)
			logger.Info("Main", "Publishing alerts to redis %s channel %s", cfg.Redis.Addr, cfg.Redis.Channel)
		}
	}

	dashOpts := dashboard.Options{
		Session:        session,
		StatusInterval: cfg.Dashboard.StatusInterval,
		Metrics:        m,
	}
	if cfg.Dashboard.MaxWebRTCClients > 0 {
		rtc := webrtc.NewServer(cfg.Dashboard.STUNServers, cfg.Dashboard.MaxWebRTCClients, m)
		defer rtc.Close()
		dashOpts.WebRTC = rtc
	}
	dash, err := dashboard.NewServer(dashOpts)
	if err != nil {
		return err
	}

	scheduler := monitor.NewScheduler(monitor.SchedulerOptions{
		Source:       source,
		Dispatcher:   dispatcher,
		Session:      session,
		Metrics:      m,
		TickInterval: cfg.Monitor.TickInterval,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var dashErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dash.Run(ctx, cfg.Dashboard.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			dashErr = err
			cancel()
		}
	}()

	loopErr := scheduler.Run(ctx)
	var acqErr *camera.AcquisitionError
	if errors.As(loopErr, &acqErr) {
		// Covers both a failed start and a device lost mid-session. The
		// dashboard keeps reporting the camera error until interrupted.
		logger.Error("Main", "Capture stopped: %v", loopErr)
		<-ctx.Done()
	}

	cancel()
	wg.Wait()
	if dashErr != nil {
		return dashErr
	}
	if loopErr != nil && acqErr == nil {
		return fmt.Errorf("capture loop: %w", loopErr)
	}
	return nil
}

// startSideServers launches the metrics and optional pprof listeners.
func startSideServers(cfg config.MetricsConfig, m *metrics.Metrics) {
	if cfg.Addr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", cfg.Addr)
			if err := m.StartServer(cfg.Addr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}
	if cfg.PprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", cfg.PprofAddr)
			srv := &http.Server{Addr: cfg.PprofAddr, Handler: http.DefaultServeMux, ReadHeaderTimeout: 10 * time.Second}
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("Main", "pprof server error: %v", err)
			}
		}()
	}
}
