package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration, loaded once at startup.
type Config struct {
	Camera    CameraConfig    `mapstructure:"camera"`
	Inference InferenceConfig `mapstructure:"inference"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// CameraConfig selects and parameterises the frame source.
type CameraConfig struct {
	Source       string        `mapstructure:"source"` // ffmpeg, pattern, dir
	Device       string        `mapstructure:"device"`
	InputFormat  string        `mapstructure:"input_format"` // v4l2, avfoundation, dshow
	FFmpegPath   string        `mapstructure:"ffmpeg_path"`
	Width        int           `mapstructure:"width"`
	Height       int           `mapstructure:"height"`
	Facing       string        `mapstructure:"facing"`
	FrameRate    int           `mapstructure:"frame_rate"`
	Dir          string        `mapstructure:"dir"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

// InferenceConfig describes the remote detection endpoint.
type InferenceConfig struct {
	URL             string        `mapstructure:"url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	JPEGQuality     int           `mapstructure:"jpeg_quality"`
	MaxWidth        int           `mapstructure:"max_width"` // 0 keeps the camera size
	ConfidenceScale float64       `mapstructure:"confidence_scale"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// MonitorConfig holds loop timing and the initial live tunables.
type MonitorConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	SampleRateHz float64       `mapstructure:"sample_rate_hz"`
	Sensitivity  float64       `mapstructure:"sensitivity"`
	AudioAlerts  bool          `mapstructure:"audio_alerts"`
	AlertReset   time.Duration `mapstructure:"alert_reset"`
	HistorySize  int           `mapstructure:"history_size"`
	Tone         string        `mapstructure:"tone"` // auto, bell, off
}

// DashboardConfig configures the local HTTP surface.
type DashboardConfig struct {
	Addr             string        `mapstructure:"addr"`
	StatusInterval   time.Duration `mapstructure:"status_interval"`
	STUNServers      []string      `mapstructure:"stun_servers"`
	MaxWebRTCClients int           `mapstructure:"max_webrtc_clients"`
}

// MetricsConfig configures the Prometheus and pprof listeners. Empty disables.
type MetricsConfig struct {
	Addr      string `mapstructure:"addr"`
	PprofAddr string `mapstructure:"pprof_addr"`
}

// RedisConfig enables alert publication when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LoggerConfig sets the initial log level and colour output.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Camera: CameraConfig{
			Source:       "ffmpeg",
			Device:       "/dev/video0",
			InputFormat:  "v4l2",
			FFmpegPath:   "ffmpeg",
			Width:        1280,
			Height:       720,
			Facing:       "user",
			FrameRate:    30,
			Dir:          "./frames",
			StartTimeout: 10 * time.Second,
		},
		Inference: InferenceConfig{
			URL:             "http://localhost:5000",
			Timeout:         10 * time.Second,
			JPEGQuality:     80,
			MaxWidth:        0,
			ConfidenceScale: 100,
			BreakerFailures: 5,
			BreakerCooldown: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			TickInterval: 16 * time.Millisecond,
			SampleRateHz: DefaultSampleRateHz,
			Sensitivity:  DefaultSensitivity,
			AudioAlerts:  true,
			AlertReset:   5 * time.Second,
			HistorySize:  50,
			Tone:         "auto",
		},
		Dashboard: DashboardConfig{
			Addr:             ":8080",
			StatusInterval:   time.Second,
			STUNServers:      []string{"stun:stun.l.google.com:19302"},
			MaxWebRTCClients: 10,
		},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			PprofAddr: "",
		},
		Redis: RedisConfig{
			Channel: "fightwatch:alerts",
		},
		Logger: LoggerConfig{
			Level: "info",
			Color: true,
		},
	}
}

// LoadConfig merges defaults, the config file and FIGHTWATCH_* environment
// variables. With an empty path the file is optional and searched for as
// fightwatch.yaml in . and ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fightwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// FIGHTWATCH_INFERENCE_URL overrides inference.url
	v.SetEnvPrefix("FIGHTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Camera.Source {
	case "ffmpeg", "pattern", "dir":
	default:
		return fmt.Errorf("camera.source: unknown source %q", c.Camera.Source)
	}
	if c.Inference.URL == "" {
		return errors.New("inference.url is required")
	}
	if c.Inference.JPEGQuality < 1 || c.Inference.JPEGQuality > 100 {
		return fmt.Errorf("inference.jpeg_quality: %d out of range [1,100]", c.Inference.JPEGQuality)
	}
	if c.Inference.ConfidenceScale <= 0 {
		return fmt.Errorf("inference.confidence_scale must be positive, got %v", c.Inference.ConfidenceScale)
	}
	if c.Monitor.TickInterval <= 0 {
		return fmt.Errorf("monitor.tick_interval must be positive, got %s", c.Monitor.TickInterval)
	}
	if c.Monitor.HistorySize <= 0 {
		return fmt.Errorf("monitor.history_size must be positive, got %d", c.Monitor.HistorySize)
	}
	switch c.Monitor.Tone {
	case "auto", "bell", "off":
	default:
		return fmt.Errorf("monitor.tone: unknown player %q", c.Monitor.Tone)
	}
	return nil
}

// InitialValues returns the live tunables seeded from the monitor section.
func (c *Config) InitialValues() Values {
	return Values{
		SampleRateHz: c.Monitor.SampleRateHz,
		Sensitivity:  c.Monitor.Sensitivity,
		AudioAlerts:  c.Monitor.AudioAlerts,
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("camera.source", d.Camera.Source)
	v.SetDefault("camera.device", d.Camera.Device)
	v.SetDefault("camera.input_format", d.Camera.InputFormat)
	v.SetDefault("camera.ffmpeg_path", d.Camera.FFmpegPath)
	v.SetDefault("camera.width", d.Camera.Width)
	v.SetDefault("camera.height", d.Camera.Height)
	v.SetDefault("camera.facing", d.Camera.Facing)
	v.SetDefault("camera.frame_rate", d.Camera.FrameRate)
	v.SetDefault("camera.dir", d.Camera.Dir)
	v.SetDefault("camera.start_timeout", d.Camera.StartTimeout)

	v.SetDefault("inference.url", d.Inference.URL)
	v.SetDefault("inference.timeout", d.Inference.Timeout)
	v.SetDefault("inference.jpeg_quality", d.Inference.JPEGQuality)
	v.SetDefault("inference.max_width", d.Inference.MaxWidth)
	v.SetDefault("inference.confidence_scale", d.Inference.ConfidenceScale)
	v.SetDefault("inference.breaker_failures", d.Inference.BreakerFailures)
	v.SetDefault("inference.breaker_cooldown", d.Inference.BreakerCooldown)

	v.SetDefault("monitor.tick_interval", d.Monitor.TickInterval)
	v.SetDefault("monitor.sample_rate_hz", d.Monitor.SampleRateHz)
	v.SetDefault("monitor.sensitivity", d.Monitor.Sensitivity)
	v.SetDefault("monitor.audio_alerts", d.Monitor.AudioAlerts)
	v.SetDefault("monitor.alert_reset", d.Monitor.AlertReset)
	v.SetDefault("monitor.history_size", d.Monitor.HistorySize)
	v.SetDefault("monitor.tone", d.Monitor.Tone)

	v.SetDefault("dashboard.addr", d.Dashboard.Addr)
	v.SetDefault("dashboard.status_interval", d.Dashboard.StatusInterval)
	v.SetDefault("dashboard.stun_servers", d.Dashboard.STUNServers)
	v.SetDefault("dashboard.max_webrtc_clients", d.Dashboard.MaxWebRTCClients)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.pprof_addr", d.Metrics.PprofAddr)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.channel", d.Redis.Channel)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.color", d.Logger.Color)
}
