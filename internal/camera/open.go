package camera

import (
	"fmt"

	"github.com/dj-oyu/fightwatch/internal/config"
)

// New builds the source selected by cfg.Source. The source is not started.
func New(cfg config.CameraConfig) (Source, error) {
	c := DefaultConstraints()
	if cfg.Width > 0 && cfg.Height > 0 {
		c.Width, c.Height = cfg.Width, cfg.Height
	}
	if cfg.Facing != "" {
		c.Facing = cfg.Facing
	}

	switch cfg.Source {
	case "ffmpeg":
		return NewFFmpegSource(FFmpegConfig{
			Path:         cfg.FFmpegPath,
			InputFormat:  cfg.InputFormat,
			Device:       cfg.Device,
			FrameRate:    cfg.FrameRate,
			Constraints:  c,
			StartTimeout: cfg.StartTimeout,
		}), nil
	case "pattern":
		return NewPatternSource(c), nil
	case "dir":
		return NewDirSource(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}
