// Package camera owns the capture device and hands out the latest frame on demand.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // DecodeConfig for frame dimensions
	"sync"
	"time"

	"github.com/dj-oyu/fightwatch/pkg/types"
)

var (
	// ErrNoFrame is returned by Snapshot before the first frame arrives.
	ErrNoFrame = errors.New("camera: no frame available")
	// ErrClosed is returned by Snapshot after Close.
	ErrClosed = errors.New("camera: source closed")
	// ErrStreamEnded means the capture process stopped delivering frames.
	ErrStreamEnded = errors.New("camera: capture stream ended")
)

// DefaultJPEGQuality is the encoder quality for frames the sources render.
const DefaultJPEGQuality = 80

// Constraints is the capture request made to the device.
type Constraints struct {
	Width  int
	Height int
	Facing string // "user" or "environment"; informational for sources that cannot choose
	Audio  bool
}

// DefaultConstraints requests 1280x720 from the user-facing camera, no audio.
func DefaultConstraints() Constraints {
	return Constraints{Width: 1280, Height: 720, Facing: "user", Audio: false}
}

// Source produces encoded frames from one capture device.
type Source interface {
	// Start acquires the device. A failure is an *AcquisitionError and is
	// permanent for the session.
	Start(ctx context.Context) error
	// Snapshot returns the most recent frame.
	Snapshot() (types.Frame, error)
	Close() error
}

// AcquisitionError reports that the capture device could not be opened.
type AcquisitionError struct {
	Source string
	Device string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("camera %s: acquisition failed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("camera %s (%s): acquisition failed: %v", e.Source, e.Device, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// mailbox keeps only the newest frame. Older frames are overwritten unread.
// Once failed it stops handing out frames.
type mailbox struct {
	mu     sync.RWMutex
	frame  types.Frame
	seq    uint64
	err    error
	closed bool
}

func (m *mailbox) store(data []byte, ts time.Time) {
	width, height := 0, 0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		width, height = cfg.Width, cfg.Height
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.err != nil {
		return
	}
	m.seq++
	m.frame = types.Frame{
		Data:      data,
		Timestamp: ts,
		Seq:       m.seq,
		Width:     width,
		Height:    height,
	}
}

func (m *mailbox) load() (types.Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return types.Frame{}, ErrClosed
	}
	if m.err != nil {
		return types.Frame{}, m.err
	}
	if m.frame.Empty() {
		return types.Frame{}, ErrNoFrame
	}
	return m.frame, nil
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.frame = types.Frame{}
	m.mu.Unlock()
}

// fail drops the held frame and makes every later load return err.
func (m *mailbox) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.err != nil {
		return
	}
	m.err = err
	m.frame = types.Frame{}
}
