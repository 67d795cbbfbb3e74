package types

import "time"

// Frame is one encoded camera snapshot handed to the inference dispatcher.
type Frame struct {
	Data      []byte    // JPEG-encoded image
	Timestamp time.Time // Capture timestamp
	Seq       uint64    // Sequential frame number assigned by the source
	Width     int       // Frame width
	Height    int       // Frame height
}

// Empty reports whether the frame carries no image data.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Data) == 0
}

// Detection is a single classified object reported by the inference service.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Outcome classifies a DetectionResult. Exactly one outcome holds per result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeThrottled
	OutcomeServiceError
	OutcomeTransportError
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:        "success",
	OutcomeThrottled:      "throttled",
	OutcomeServiceError:   "service_error",
	OutcomeTransportError: "transport_error",
}

// String returns the string representation of an outcome
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// DetectionResult is the structured reply for one dispatched frame.
type DetectionResult struct {
	Outcome        Outcome
	AnnotatedFrame []byte      // JPEG, present iff Outcome == OutcomeSuccess
	Detections     []Detection // Ordered as returned by the service
	FightDetected  bool
	ErrorMessage   string // Present iff the outcome is an error
	Err            error  // Typed error for error outcomes
	FrameSeq       uint64
	Latency        time.Duration
	ReceivedAt     time.Time
}

// Success reports whether the service processed the frame.
func (r *DetectionResult) Success() bool {
	return r.Outcome == OutcomeSuccess
}

// Failed reports whether the result carries a service or transport error.
func (r *DetectionResult) Failed() bool {
	return r.Outcome == OutcomeServiceError || r.Outcome == OutcomeTransportError
}
