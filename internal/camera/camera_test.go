package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"

	"github.com/dj-oyu/fightwatch/internal/config"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFrameReaderSplitsStream(t *testing.T) {
	a := testJPEG(t, 16, 8)
	b := testJPEG(t, 32, 24)

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x12, 0xFF}) // leading garbage
	stream.Write(a)
	stream.Write(b)

	r := NewFrameReader(&stream, 0)
	got1, err := r.Next()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if !bytes.Equal(got1, a) {
		t.Fatalf("first frame mismatch: %d bytes, want %d", len(got1), len(a))
	}
	got2, err := r.Next()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if !bytes.Equal(got2, b) {
		t.Fatalf("second frame mismatch: %d bytes, want %d", len(got2), len(b))
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	a := testJPEG(t, 16, 8)
	r := NewFrameReader(bytes.NewReader(a[:len(a)-2]), 0)
	if _, err := r.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestFrameReaderSizeLimit(t *testing.T) {
	a := testJPEG(t, 64, 64)
	r := NewFrameReader(bytes.NewReader(a), 64)
	if _, err := r.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestPatternSource(t *testing.T) {
	s := NewPatternSource(Constraints{Width: 320, Height: 240})
	if _, err := s.Snapshot(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("snapshot before start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f1, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	f2, _ := s.Snapshot()
	if f2.Seq != f1.Seq+1 {
		t.Fatalf("seq %d then %d", f1.Seq, f2.Seq)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(f1.Data))
	if err != nil {
		t.Fatalf("pattern frame is not a JPEG: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 240 {
		t.Fatalf("size %dx%d", cfg.Width, cfg.Height)
	}

	_ = s.Close()
	if _, err := s.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Fatalf("snapshot after close: %v", err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.jpg", "notes.txt"} {
		data := testJPEG(t, 8, 8)
		if name == "notes.txt" {
			data = []byte("skip me")
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s := NewDirSource(dir)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var seqs []uint64
	for range 3 {
		f, err := s.Snapshot()
		if err != nil {
			t.Fatal(err)
		}
		if f.Width != 8 || f.Height != 8 {
			t.Fatalf("size %dx%d", f.Width, f.Height)
		}
		seqs = append(seqs, f.Seq)
	}
	if !slices.Equal(seqs, []uint64{1, 2, 3}) {
		t.Fatalf("seqs = %v", seqs)
	}
}

func TestDirSourceEmptyIsAcquisitionError(t *testing.T) {
	s := NewDirSource(t.TempDir())
	err := s.Start(context.Background())
	var acq *AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	s := NewFFmpegSource(FFmpegConfig{
		Path:        filepath.Join(t.TempDir(), "no-ffmpeg"),
		Device:      "/dev/video9",
		Constraints: DefaultConstraints(),
	})
	err := s.Start(context.Background())
	var acq *AcquisitionError
	if !errors.As(err, &acq) {
		t.Fatalf("expected AcquisitionError, got %v", err)
	}
	if acq.Device != "/dev/video9" {
		t.Fatalf("device = %q", acq.Device)
	}
}

func TestFFmpegExitFailsSnapshot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell script in place of ffmpeg")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	dir := t.TempDir()
	frame := filepath.Join(dir, "f.jpg")
	if err := os.WriteFile(frame, testJPEG(t, 16, 16), 0o644); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\ncat '" + frame + "'\nsleep 0.2\necho 'device unplugged' >&2\nexit 1\n"
	bin := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewFFmpegSource(FFmpegConfig{Path: bin, Device: "/dev/video0", StartTimeout: 5 * time.Second})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := s.Snapshot()
		if err != nil {
			var acq *AcquisitionError
			if !errors.As(err, &acq) || !errors.Is(err, ErrStreamEnded) {
				t.Fatalf("snapshot after exit: %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot kept returning the last frame after ffmpeg exited")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Later snapshots keep failing; Close still wins.
	if _, err := s.Snapshot(); !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("second snapshot: %v", err)
	}
	_ = s.Close()
	if _, err := s.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Fatalf("snapshot after close: %v", err)
	}
}

func TestMailboxFail(t *testing.T) {
	var m mailbox
	m.store(testJPEG(t, 8, 8), time.Now())
	if _, err := m.load(); err != nil {
		t.Fatal(err)
	}

	lost := &AcquisitionError{Source: "ffmpeg", Err: ErrStreamEnded}
	m.fail(lost)
	m.store(testJPEG(t, 8, 8), time.Now())
	if _, err := m.load(); !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("load after fail: %v", err)
	}

	m.fail(errors.New("second failure"))
	if _, err := m.load(); !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("first failure not kept: %v", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	s := NewFFmpegSource(FFmpegConfig{
		InputFormat: "v4l2",
		Device:      "/dev/video0",
		FrameRate:   30,
		Constraints: DefaultConstraints(),
	})
	args := s.Args()
	for _, want := range [][]string{
		{"-f", "v4l2"},
		{"-video_size", "1280x720"},
		{"-i", "/dev/video0"},
		{"-f", "image2pipe"},
	} {
		found := false
		for i := 0; i+1 < len(args); i++ {
			if args[i] == want[0] && args[i+1] == want[1] {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("args %v missing %v", args, want)
		}
	}
	if !slices.Contains(args, "-an") {
		t.Errorf("audio not disabled: %v", args)
	}
	if args[len(args)-1] != "-" {
		t.Errorf("output should be stdout: %v", args)
	}
}

func TestNewSelectsSource(t *testing.T) {
	cfg := config.DefaultConfig().Camera
	cfg.Source = "pattern"
	src, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(*PatternSource); !ok {
		t.Fatalf("got %T", src)
	}

	cfg.Source = "webcam"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestFFmpegDefaultQuality(t *testing.T) {
	args := NewFFmpegSource(FFmpegConfig{Device: "/dev/video0"}).Args()
	i := slices.Index(args, "-q:v")
	if i < 0 || args[i+1] != "5" {
		t.Fatalf("args %v: want -q:v 5", args)
	}
}

func TestPlaceholderJPEG(t *testing.T) {
	data, err := PlaceholderJPEG(640, 480, "waiting for camera")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Fatal(err)
	}
}
