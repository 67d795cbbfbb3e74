// Package notify publishes alert transitions to Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dj-oyu/fightwatch/internal/alert"
	"github.com/dj-oyu/fightwatch/internal/logger"
)

const (
	queueSize      = 16
	publishTimeout = 2 * time.Second
)

// AlertEvent is the JSON message published for each transition.
type AlertEvent struct {
	SessionID string      `json:"session_id"`
	Source    string      `json:"source,omitempty"`
	State     alert.State `json:"state"`
	Previous  alert.State `json:"previous"`
	Episode   uint64      `json:"episode"`
	At        time.Time   `json:"at"`
}

// publisher is the subset of *redis.Client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher forwards transitions to a Redis channel from a background
// goroutine. Events are dropped when the queue is full so the alert path
// never blocks on Redis.
type Publisher struct {
	rdb       publisher
	channel   string
	sessionID string
	source    string

	mu      sync.Mutex
	closed  bool
	queue   chan AlertEvent
	done    chan struct{}
	dropped atomic.Uint64
}

// NewPublisher starts a publisher on channel.
func NewPublisher(rdb publisher, channel, sessionID, source string) *Publisher {
	p := &Publisher{
		rdb:       rdb,
		channel:   channel,
		sessionID: sessionID,
		source:    source,
		queue:     make(chan AlertEvent, queueSize),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// HandleTransition is an alert.Listener.
func (p *Publisher) HandleTransition(tr alert.Transition) {
	ev := AlertEvent{
		SessionID: p.sessionID,
		Source:    p.source,
		State:     tr.To,
		Previous:  tr.From,
		Episode:   tr.Episode,
		At:        tr.At,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		n := p.dropped.Add(1)
		logger.Warn("Notify", "Alert queue full, dropped event (total dropped: %d)", n)
	}
}

// Close drains queued events and stops the publisher.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		if err := p.publish(ev); err != nil {
			logger.Warn("Notify", "Publish to %s failed: %v", p.channel, err)
		}
	}
}

func (p *Publisher) publish(ev AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return err
	}
	logger.Debug("Notify", "Published %s episode %d to %s", ev.State, ev.Episode, p.channel)
	return nil
}
