package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/fightwatch/pkg/types"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

func colorBars(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := max(width/len(barColors), 1)
	for i, c := range barColors {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		if i == len(barColors)-1 {
			r.Max.X = width
		}
		draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	}
	return img
}

// drawLabel writes text on a black strip at (x, y), y being the top edge.
func drawLabel(img draw.Image, x, y int, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	bg := image.Rect(x-4, y-2, x+width+4, y+face.Height+2)
	draw.Draw(img, bg, image.NewUniform(color.Black), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(x, y+face.Ascent),
	}
	d.DrawString(text)
}

// PlaceholderJPEG renders colour bars with a caption. Used wherever a frame
// is needed but none is available yet.
func PlaceholderJPEG(width, height int, caption string) ([]byte, error) {
	img := colorBars(width, height)
	if caption != "" {
		drawLabel(img, 10, 10, caption)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: DefaultJPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PatternSource renders synthetic colour-bar frames with a running frame
// counter. For hosts without a camera.
type PatternSource struct {
	constraints Constraints
	now         func() time.Time

	mu         sync.Mutex
	background *image.RGBA
	canvas     *image.RGBA
	seq        uint64
	closed     bool
}

// NewPatternSource creates a source at the requested resolution.
func NewPatternSource(c Constraints) *PatternSource {
	if c.Width <= 0 || c.Height <= 0 {
		d := DefaultConstraints()
		c.Width, c.Height = d.Width, d.Height
	}
	return &PatternSource{constraints: c, now: time.Now}
}

func (s *PatternSource) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &AcquisitionError{Source: "pattern", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.background = colorBars(s.constraints.Width, s.constraints.Height)
	s.canvas = image.NewRGBA(s.background.Bounds())
	return nil
}

// Snapshot renders a new frame on each call.
func (s *PatternSource) Snapshot() (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Frame{}, ErrClosed
	}
	if s.background == nil {
		return types.Frame{}, ErrNoFrame
	}

	s.seq++
	ts := s.now()
	draw.Draw(s.canvas, s.canvas.Bounds(), s.background, image.Point{}, draw.Src)
	drawLabel(s.canvas, 10, 10, fmt.Sprintf("pattern #%d %s", s.seq, ts.Format("15:04:05.000")))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.canvas, &jpeg.Options{Quality: DefaultJPEGQuality}); err != nil {
		return types.Frame{}, fmt.Errorf("encode pattern frame: %w", err)
	}
	return types.Frame{
		Data:      buf.Bytes(),
		Timestamp: ts,
		Seq:       s.seq,
		Width:     s.constraints.Width,
		Height:    s.constraints.Height,
	}, nil
}

// Close stops the source. Later snapshots return ErrClosed.
func (s *PatternSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
