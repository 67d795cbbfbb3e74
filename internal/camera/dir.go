package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/pkg/types"
)

// DirSource replays the JPEG files of a directory in name order, looping.
type DirSource struct {
	dir string

	mu     sync.Mutex
	files  []string
	next   int
	latest mailbox
}

// NewDirSource creates a source over dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Start lists the directory. It fails when no JPEG file is found.
func (s *DirSource) Start(ctx context.Context) error {
	fail := func(err error) error {
		return &AcquisitionError{Source: "dir", Device: s.dir, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fail(err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return fail(errors.New("no .jpg files found"))
	}
	sort.Strings(files)

	s.mu.Lock()
	s.files = files
	s.next = 0
	s.mu.Unlock()

	logger.Info("Camera", "Replaying %d frames from %s", len(files), s.dir)
	return nil
}

// Snapshot reads the next file. An unreadable file is reported and skipped
// on the following call.
func (s *DirSource) Snapshot() (types.Frame, error) {
	s.mu.Lock()
	if len(s.files) == 0 {
		s.mu.Unlock()
		if _, err := s.latest.load(); errors.Is(err, ErrClosed) {
			return types.Frame{}, err
		}
		return types.Frame{}, ErrNoFrame
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return types.Frame{}, fmt.Errorf("read frame %s: %w", filepath.Base(path), err)
	}
	s.latest.store(data, time.Now())
	return s.latest.load()
}

// Close stops the replay. Later snapshots return ErrClosed.
func (s *DirSource) Close() error {
	s.mu.Lock()
	s.files = nil
	s.mu.Unlock()
	s.latest.close()
	return nil
}
