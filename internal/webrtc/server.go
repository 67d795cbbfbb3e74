// Package webrtc pushes session status events to browsers over a WebRTC
// data channel. Signalling is a single offer/answer exchange over HTTP.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/fightwatch/internal/logger"
	"github.com/dj-oyu/fightwatch/internal/metrics"
)

// StatusChannelLabel names the data channel created for each client.
const StatusChannelLabel = "status"

// ErrTooManyClients is returned by HandleOffer when the client limit is reached.
var ErrTooManyClients = errors.New("webrtc: maximum clients reached")

// Client is one connected browser.
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection
	channel  *webrtc.DataChannel
	events   chan []byte
	closed   chan struct{}
	once     sync.Once

	mu            sync.Mutex
	eventsSent    uint64
	eventsDropped uint64
}

// Server manages data channel clients.
type Server struct {
	clients    map[string]*Client
	pending    int // offers admitted but still gathering
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a server. An empty stunServers list gathers host
// candidates only, which is enough on a LAN.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(2 * time.Second)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	if m == nil {
		m = metrics.New()
	}
	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: maxClients,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
		metrics:    m,
	}
}

// HandleOffer accepts a browser offer and returns the answer with all ICE
// candidates included. The answer carries a "status" data channel on which
// every Broadcast payload is delivered as text.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("failed to parse offer: expected type offer with sdp")
	}

	if !s.reserve() {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}
	admitted := false
	defer func() {
		if !admitted {
			s.release()
		}
	}()

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	// Negotiated out of band so the browser need not create it first.
	negotiated := true
	id := uint16(0)
	channel, err := peerConn.CreateDataChannel(StatusChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	client := &Client{
		id:       uuid.NewString(),
		peerConn: peerConn,
		channel:  channel,
		events:   make(chan []byte, 8),
		closed:   make(chan struct{}),
	}

	channel.OnOpen(func() {
		logger.Debug("WebRTC", "Client %s status channel open", client.id)
		go s.sendEvents(client)
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.pending--
	s.clients[client.id] = client
	count := len(s.clients)
	s.clientsMu.Unlock()
	admitted = true
	s.metrics.WebRTCClients.Store(int64(count))

	logger.Info("WebRTC", "Client %s connected (total: %d)", client.id, count)
	return answerJSON, nil
}

// reserve holds a client slot for the duration of an offer exchange.
func (s *Server) reserve() bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if len(s.clients)+s.pending >= s.maxClients {
		return false
	}
	s.pending++
	return true
}

func (s *Server) release() {
	s.clientsMu.Lock()
	s.pending--
	s.clientsMu.Unlock()
}

// Broadcast queues a payload for every client. Slow clients drop events.
func (s *Server) Broadcast(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		client.mu.Lock()
		select {
		case client.events <- data:
			client.eventsSent++
		default:
			client.eventsDropped++
		}
		client.mu.Unlock()
	}
}

func (s *Server) sendEvents(client *Client) {
	for {
		select {
		case <-client.closed:
			return
		case data := <-client.events:
			if err := client.channel.SendText(string(data)); err != nil {
				logger.Warn("WebRTC", "Send to client %s failed: %v", client.id, err)
				s.RemoveClient(client.id)
				return
			}
		}
	}
}

// RemoveClient disconnects a client by ID.
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, ok := s.clients[clientID]
	if ok {
		delete(s.clients, clientID)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !ok {
		return
	}
	s.metrics.WebRTCClients.Store(int64(count))
	client.close()

	client.mu.Lock()
	sent, dropped := client.eventsSent, client.eventsDropped
	client.mu.Unlock()
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)", clientID, sent, dropped)
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		// Runs outside the server lock: Close fires the state callback,
		// which calls RemoveClient again.
		_ = c.peerConn.Close()
	})
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns per-client delivery counters.
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64, len(s.clients))
	for id, client := range s.clients {
		client.mu.Lock()
		stats[id] = map[string]uint64{
			"events_sent":    client.eventsSent,
			"events_dropped": client.eventsDropped,
		}
		client.mu.Unlock()
	}
	return stats
}

// Close disconnects every client.
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
