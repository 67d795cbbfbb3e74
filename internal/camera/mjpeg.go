package camera

import (
	"bufio"
	"errors"
	"io"
)

// DefaultMaxFrameSize bounds a single JPEG in an MJPEG byte stream.
const DefaultMaxFrameSize = 8 << 20

// ErrFrameTooLarge is returned when no end-of-image marker is found within the size limit.
var ErrFrameTooLarge = errors.New("mjpeg: frame exceeds size limit")

// FrameReader splits a concatenated JPEG stream (ffmpeg image2pipe output)
// into individual images using the SOI (FFD8) and EOI (FFD9) markers.
type FrameReader struct {
	r       *bufio.Reader
	maxSize int
}

// NewFrameReader wraps r. maxSize <= 0 uses DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024), maxSize: maxSize}
}

// Next returns the next complete JPEG. Bytes between images are discarded.
// io.EOF is returned only on a clean boundary.
func (fr *FrameReader) Next() ([]byte, error) {
	if err := fr.seekStart(); err != nil {
		return nil, err
	}

	frame := make([]byte, 2, 256*1024)
	frame[0], frame[1] = 0xFF, 0xD8

	for {
		chunk, err := fr.r.ReadSlice(0xFF)
		frame = append(frame, chunk...)
		if len(frame) > fr.maxSize {
			return nil, ErrFrameTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return nil, unexpected(err)
		}

		// chunk ends in 0xFF; inspect the marker byte(s) that follow
		for {
			b, err := fr.r.ReadByte()
			if err != nil {
				return nil, unexpected(err)
			}
			frame = append(frame, b)
			if b == 0xD9 {
				return frame, nil
			}
			if b != 0xFF {
				break
			}
		}
	}
}

func (fr *FrameReader) seekStart() error {
	for {
		if _, err := fr.r.ReadSlice(0xFF); err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			return err
		}
		for {
			b, err := fr.r.ReadByte()
			if err != nil {
				return unexpected(err)
			}
			if b == 0xD8 {
				return nil
			}
			if b != 0xFF {
				break
			}
		}
	}
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
