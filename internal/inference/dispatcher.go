// Package inference sends camera frames to the remote detection service and
// classifies its replies.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/pkg/types"
)

const (
	endpointPath = "/process_frame"
	fieldName    = "frame"
	fileName     = "frame.jpg"

	maxReplyBytes = 32 << 20
)

// Config configures a Dispatcher.
type Config struct {
	URL             string // service base URL, without /process_frame
	Timeout         time.Duration
	JPEGQuality     int
	MaxWidth        int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// reply is the service's JSON response body.
type reply struct {
	Success    bool              `json:"success"`
	Frame      string            `json:"frame"`
	Detections []types.Detection `json:"detections"`
	Fight      bool              `json:"fight"`
	Throttled  bool              `json:"throttled"`
	Error      string            `json:"error"`
}

// decoded is a reply that parsed cleanly, with its HTTP status.
type decoded struct {
	reply
	annotated  []byte
	statusCode int
}

// Dispatcher turns one frame into one DetectionResult. It holds no per-result
// state; callers apply the result.
type Dispatcher struct {
	endpoint string
	cfg      Config
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	now      func() time.Time
}

// New creates a dispatcher. A nil client uses a default http.Client.
func New(cfg Config, client *http.Client) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 80
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}

	threshold := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inference",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Inference", "Circuit %s: %s -> %s", name, from, to)
		},
	})

	return &Dispatcher{
		endpoint: strings.TrimRight(cfg.URL, "/") + endpointPath,
		cfg:      cfg,
		client:   client,
		breaker:  breaker,
		now:      time.Now,
	}
}

// Endpoint returns the full URL frames are posted to.
func (d *Dispatcher) Endpoint() string {
	return d.endpoint
}

// Dispatch sends frame and classifies the reply. A non-nil error means the
// frame was rejected locally and no request was issued; every network or
// service outcome is reported through the returned result instead.
func (d *Dispatcher) Dispatch(ctx context.Context, frame types.Frame) (types.DetectionResult, error) {
	if frame.Empty() {
		return types.DetectionResult{}, ErrEmptyFrame
	}
	payload, err := prepareFrame(frame.Data, d.cfg.MaxWidth, d.cfg.JPEGQuality)
	if err != nil {
		return types.DetectionResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := d.now()
	out, err := d.breaker.Execute(func() (interface{}, error) {
		return d.post(ctx, payload)
	})
	result := types.DetectionResult{
		FrameSeq:   frame.Seq,
		Latency:    d.now().Sub(start),
		ReceivedAt: d.now(),
	}

	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			// gobreaker.ErrOpenState or ErrTooManyRequests
			terr = &TransportError{Op: "breaker", Err: err}
		}
		result.Outcome = types.OutcomeTransportError
		result.Err = terr
		result.ErrorMessage = terr.Error()
		return result, nil
	}

	rep := out.(*decoded)
	switch {
	case rep.Success:
		result.Outcome = types.OutcomeSuccess
		result.AnnotatedFrame = rep.annotated
		result.Detections = rep.Detections
		result.FightDetected = rep.Fight
	case rep.Throttled:
		result.Outcome = types.OutcomeThrottled
	default:
		serr := &ServiceError{Message: rep.Error, StatusCode: rep.statusCode}
		result.Outcome = types.OutcomeServiceError
		result.Err = serr
		result.ErrorMessage = serr.Error()
	}

	logger.Debug("Inference", "frame #%d -> %s in %s (%d detections)",
		frame.Seq, result.Outcome, result.Latency, len(result.Detections))
	return result, nil
}

// post performs the HTTP round trip. Only transport-level problems are
// returned as errors so that the breaker counts nothing else.
func (d *Dispatcher) post(ctx context.Context, payload []byte) (*decoded, error) {
	body, contentType, err := multipartBody(payload)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, body)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, &TransportError{Op: "read", StatusCode: resp.StatusCode, Err: err}
	}

	var rep decoded
	if err := json.Unmarshal(data, &rep.reply); err != nil {
		if resp.StatusCode/100 != 2 {
			err = fmt.Errorf("unexpected status %s", resp.Status)
		}
		return nil, &TransportError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}
	rep.statusCode = resp.StatusCode

	if rep.Success {
		img, err := decodeFrame(rep.Frame)
		if err != nil {
			return nil, &TransportError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
		}
		rep.annotated = img
	}
	return &rep, nil
}

func multipartBody(payload []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, fileName))
	header.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// decodeFrame accepts bare base64 or a data URL.
func decodeFrame(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("success reply without frame")
	}
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("annotated frame: %w", err)
	}
	return img, nil
}
