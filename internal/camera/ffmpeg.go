package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/pkg/types"
)

// FFmpegConfig configures a capture device read through an ffmpeg subprocess.
type FFmpegConfig struct {
	Path         string // ffmpeg binary
	InputFormat  string // v4l2, avfoundation, dshow
	Device       string // /dev/video0, "0", "video=Integrated Camera"
	FrameRate    int
	Constraints  Constraints
	StartTimeout time.Duration // wait for the first frame
	Quality      int           // ffmpeg -q:v, 2 (best) to 31; 5 is close to JPEG quality 80
}

// FFmpegSource runs ffmpeg with an image2pipe MJPEG output and keeps the
// latest decoded frame boundary in a mailbox.
type FFmpegSource struct {
	cfg    FFmpegConfig
	latest mailbox

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	stderr *tailBuffer
}

// NewFFmpegSource creates an unstarted source.
func NewFFmpegSource(cfg FFmpegConfig) *FFmpegSource {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 5
	}
	return &FFmpegSource{cfg: cfg, stderr: &tailBuffer{max: 4096}}
}

// Args returns the ffmpeg command line (without the binary).
func (s *FFmpegSource) Args() []string {
	c := s.cfg.Constraints
	args := []string{"-hide_banner", "-loglevel", "error"}
	if s.cfg.InputFormat != "" {
		args = append(args, "-f", s.cfg.InputFormat)
	}
	if c.Width > 0 && c.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	if s.cfg.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(s.cfg.FrameRate))
	}
	args = append(args, "-i", s.cfg.Device)
	if !c.Audio {
		args = append(args, "-an")
	}
	return append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(s.cfg.Quality),
		"-",
	)
}

// Start launches ffmpeg and waits until the first frame arrives.
func (s *FFmpegSource) Start(ctx context.Context) error {
	fail := func(err error) error {
		return &AcquisitionError{Source: "ffmpeg", Device: s.cfg.Device, Err: err}
	}

	path, err := exec.LookPath(s.cfg.Path)
	if err != nil {
		return fail(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, path, s.Args()...)
	cmd.Stderr = s.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fail(err)
	}

	logger.Info("Camera", "Starting ffmpeg: %s %s", path, strings.Join(s.Args(), " "))
	if c := s.cfg.Constraints; c.Facing != "" {
		logger.Debug("Camera", "Facing mode %q is not selectable through ffmpeg; using %s", c.Facing, s.cfg.Device)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fail(err)
	}

	first := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	s.cmd, s.cancel, s.done = cmd, cancel, done
	s.mu.Unlock()

	go s.readLoop(stdout, first, done)

	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-first:
		logger.Info("Camera", "First frame received from %s", s.cfg.Device)
		return nil
	case <-done:
		return fail(s.exitError())
	case <-timer.C:
		_ = s.Close()
		return fail(fmt.Errorf("no frame within %s", s.cfg.StartTimeout))
	case <-ctx.Done():
		_ = s.Close()
		return fail(ctx.Err())
	}
}

func (s *FFmpegSource) readLoop(stdout io.Reader, first, done chan struct{}) {
	defer close(done)

	reader := NewFrameReader(stdout, 0)
	signalled := false
	for {
		data, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("Camera", "MJPEG stream error: %v", err)
			}
			break
		}
		s.latest.store(data, time.Now())
		if !signalled {
			close(first)
			signalled = true
		}
	}

	if err := s.cmd.Wait(); err != nil {
		logger.Warn("Camera", "ffmpeg exited: %v", s.exitError())
	}
	// No-op after Close.
	s.latest.fail(&AcquisitionError{
		Source: "ffmpeg",
		Device: s.cfg.Device,
		Err:    fmt.Errorf("%w: %v", ErrStreamEnded, s.exitError()),
	})
}

func (s *FFmpegSource) exitError() error {
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		return errors.New(msg)
	}
	return errors.New("ffmpeg exited")
}

// Snapshot returns the latest frame. After ffmpeg exits it returns an
// *AcquisitionError wrapping ErrStreamEnded.
func (s *FFmpegSource) Snapshot() (types.Frame, error) {
	return s.latest.load()
}

// Close stops ffmpeg and waits for the reader to exit.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	s.latest.close()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
