package monitor

import (
	"sync"
	"time"
)

// Status is the single user-visible indicator of the latest outcome category.
type Status int

const (
	StatusStarting Status = iota
	StatusOnline
	StatusServiceError
	StatusNetworkError
	StatusCameraError
)

var statusNames = map[Status]string{
	StatusStarting:     "starting",
	StatusOnline:       "online",
	StatusServiceError: "service_error",
	StatusNetworkError: "network_error",
	StatusCameraError:  "camera_error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// indicator holds only the most recent status. CameraError is terminal.
type indicator struct {
	mu      sync.RWMutex
	status  Status
	message string
	since   time.Time
}

func (i *indicator) set(s Status, message string, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == StatusCameraError {
		return
	}
	if i.status != s {
		i.since = now
	}
	i.status = s
	i.message = message
}

func (i *indicator) get() (Status, string, time.Time) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status, i.message, i.since
}
