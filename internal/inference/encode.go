package inference

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// prepareFrame validates the JPEG header and, when maxWidth is set and the
// frame is wider, downscales it preserving aspect ratio.
func prepareFrame(data []byte, maxWidth, quality int) ([]byte, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableFrame, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrUndecodableFrame)
	}
	if maxWidth <= 0 || cfg.Width <= maxWidth {
		return data, nil
	}

	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableFrame, err)
	}

	height := max(cfg.Height*maxWidth/cfg.Width, 1)
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode scaled frame: %w", err)
	}
	return buf.Bytes(), nil
}
