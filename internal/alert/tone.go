package alert

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"time"

	"github.com/dj-oyu/fightwatch/internal/logger"
)

// Alert tone: an 800 Hz sine whose gain decays exponentially from 0.3 to
// 0.01 over half a second.
const (
	ToneFrequency  = 800.0
	ToneDuration   = 500 * time.Millisecond
	ToneStartGain  = 0.3
	ToneEndGain    = 0.01
	ToneSampleRate = 22050
)

// Player plays the alert tone. Play blocks until playback ends.
type Player interface {
	Play(ctx context.Context) error
}

// SynthesizeTone renders the alert tone as signed 16-bit mono samples.
func SynthesizeTone(sampleRate int) []int16 {
	n := int(float64(sampleRate) * ToneDuration.Seconds())
	samples := make([]int16, n)
	ratio := ToneEndGain / ToneStartGain
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		gain := ToneStartGain * math.Pow(ratio, t/ToneDuration.Seconds())
		v := gain * math.Sin(2*math.Pi*ToneFrequency*t)
		samples[i] = int16(math.Round(v * math.MaxInt16))
	}
	return samples
}

// EncodeWAV wraps mono PCM samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(samples) * 2)
	le := binary.LittleEndian

	b := make([]byte, 0, 44+dataSize)
	b = append(b, "RIFF"...)
	b = le.AppendUint32(b, 36+dataSize)
	b = append(b, "WAVEfmt "...)
	b = le.AppendUint32(b, 16) // fmt chunk size
	b = le.AppendUint16(b, 1)  // PCM
	b = le.AppendUint16(b, channels)
	b = le.AppendUint32(b, uint32(sampleRate))
	b = le.AppendUint32(b, uint32(sampleRate*channels*bitsPerSample/8))
	b = le.AppendUint16(b, channels*bitsPerSample/8)
	b = le.AppendUint16(b, bitsPerSample)
	b = append(b, "data"...)
	b = le.AppendUint32(b, dataSize)
	for _, v := range samples {
		b = le.AppendUint16(b, uint16(v))
	}
	return b
}

// CommandPlayer plays a WAV file through an external program.
type CommandPlayer struct {
	Path string
	Args []string
	File string // WAV path, appended to Args
}

func (p *CommandPlayer) Play(ctx context.Context) error {
	args := append(append([]string{}, p.Args...), p.File)
	out, err := exec.CommandContext(ctx, p.Path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", p.Path, err, bytes.TrimSpace(out))
	}
	return nil
}

// BellPlayer writes the terminal bell character.
type BellPlayer struct {
	W io.Writer
}

func (p *BellPlayer) Play(context.Context) error {
	_, err := io.WriteString(p.W, "\a")
	return err
}

// candidates in preference order: ALSA, PulseAudio, macOS.
var playerCommands = []struct {
	name string
	args []string
}{
	{"aplay", []string{"-q"}},
	{"paplay", nil},
	{"afplay", nil},
}

// NewPlayer selects a tone player. mode is "auto" (first system player on
// PATH, bell otherwise), "bell" or "off". The returned cleanup removes the
// temporary WAV file.
func NewPlayer(mode string) (Player, func(), error) {
	noop := func() {}
	switch mode {
	case "off":
		return nil, noop, nil
	case "bell":
		return &BellPlayer{W: os.Stderr}, noop, nil
	case "auto", "":
	default:
		return nil, noop, fmt.Errorf("unknown tone player %q", mode)
	}

	for _, c := range playerCommands {
		path, err := exec.LookPath(c.name)
		if err != nil {
			continue
		}
		file, err := writeToneFile()
		if err != nil {
			logger.Warn("Alert", "Cannot write tone file, using bell: %v", err)
			break
		}
		logger.Info("Alert", "Alert tone via %s", path)
		return &CommandPlayer{Path: path, Args: c.args, File: file}, func() { _ = os.Remove(file) }, nil
	}
	return &BellPlayer{W: os.Stderr}, noop, nil
}

func writeToneFile() (string, error) {
	f, err := os.CreateTemp("", "fightwatch-tone-*.wav")
	if err != nil {
		return "", err
	}
	data := EncodeWAV(SynthesizeTone(ToneSampleRate), ToneSampleRate)
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
