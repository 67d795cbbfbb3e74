package dashboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/internal/monitor"
)

// FrameBroadcaster fans annotated JPEG frames out to MJPEG clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
}

// NewFrameBroadcaster creates an empty broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{clients: make(map[int]chan []byte)}
}

// Subscribe adds a client and returns its frame channel.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	fb.clients[id] = ch
	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Publish hands a frame to every client that has room for it.
func (fb *FrameBroadcaster) Publish(jpeg []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- jpeg:
		default:
		}
	}
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// SerializedEvent carries one status snapshot in both wire formats so each
// client only picks bytes.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 of a google.protobuf.Struct, safe for SSE
}

// serializeSnapshot encodes a snapshot as JSON and as a protobuf Struct.
func serializeSnapshot(snap monitor.Snapshot) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}

	st := &structpb.Struct{}
	if err := protojson.Unmarshal(jsonData, st); err != nil {
		return nil, fmt.Errorf("convert status to struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal status protobuf: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// StatusBroadcaster publishes session snapshots to SSE clients and an
// optional sink on a fixed interval and whenever Notify is called.
type StatusBroadcaster struct {
	session  *monitor.Session
	interval time.Duration
	sink     func([]byte)

	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int

	wake chan struct{}
}

// NewStatusBroadcaster creates a broadcaster for session. sink, if non-nil,
// receives the JSON form of every published event.
func NewStatusBroadcaster(session *monitor.Session, interval time.Duration, sink func([]byte)) *StatusBroadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusBroadcaster{
		session:  session,
		interval: interval,
		sink:     sink,
		clients:  make(map[int]chan *SerializedEvent),
		wake:     make(chan struct{}, 1),
	}
}

// Subscribe adds an SSE client.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2)
	sb.clients[id] = ch
	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes an SSE client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Current serializes the session state now.
func (sb *StatusBroadcaster) Current() (*SerializedEvent, error) {
	return serializeSnapshot(sb.session.Snapshot())
}

// Notify requests an immediate publish. Never blocks.
func (sb *StatusBroadcaster) Notify() {
	select {
	case sb.wake <- struct{}{}:
	default:
	}
}

// Run publishes until ctx is cancelled.
func (sb *StatusBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sb.wake:
		}
		sb.publish()
	}
}

func (sb *StatusBroadcaster) publish() {
	event, err := sb.Current()
	if err != nil {
		logger.Warn("StatusBroadcaster", "Failed to serialize status: %v", err)
		return
	}

	sb.mu.Lock()
	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
		}
	}
	sb.mu.Unlock()

	if sb.sink != nil {
		sb.sink(event.JSONData)
	}
}
