package benchtrace

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benchtrace/benchtrace/internal/stepdetect"
)

// StreamConfig configures the regression event feed.
type StreamConfig struct {
	// BufferSize is the channel buffer size per subscription
	BufferSize int
	// PingInterval is how often to ping WebSocket clients
	PingInterval time.Duration
	// WriteTimeout for WebSocket writes
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BufferSize:   64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// RegressionEvent is one regression discovered during an analysis run.
type RegressionEvent struct {
	Benchmark  string               `json:"benchmark"`
	Regression stepdetect.Regression `json:"regression"`
	Time       time.Time            `json:"time"`
}

// Subscription is an active feed of regression events.
type Subscription struct {
	ID string

	ch     chan RegressionEvent
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// C returns the channel for receiving events.
func (s *Subscription) C() <-chan RegressionEvent {
	return s.ch
}

// Close closes the subscription.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// RegressionHub fans regression events out to subscribers, both
// in-process channels and WebSocket clients.
type RegressionHub struct {
	config StreamConfig

	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID uint64

	upgrader websocket.Upgrader

	// Logger receives connection diagnostics. If nil, nothing is logged.
	Logger *log.Logger
}

// NewRegressionHub creates a hub.
func NewRegressionHub(cfg StreamConfig) *RegressionHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &RegressionHub{
		config: cfg,
		subs:   make(map[string]*Subscription),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Subscribe creates a new event subscription.
func (h *RegressionHub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		ID:   fmt.Sprintf("sub-%d", h.nextID),
		ch:   make(chan RegressionEvent, h.config.BufferSize),
		done: make(chan struct{}),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (h *RegressionHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Publish sends an event to all subscriptions. Slow subscribers whose
// buffers are full miss the event rather than block analysis.
func (h *RegressionHub) Publish(ev RegressionEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		sub.mu.Lock()
		if !sub.closed {
			select {
			case sub.ch <- ev:
			default:
				// Buffer full, drop the event
			}
		}
		sub.mu.Unlock()
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *RegressionHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a WebSocket connection and streams
// regression events to it as JSON messages until the client goes away.
func (h *RegressionHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("websocket upgrade failed: %v", err)
		return
	}

	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID)
	defer conn.Close()

	// Discard client messages; detect disconnects via read errors.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.Unsubscribe(sub.ID)
				return
			}
		}
	}()

	ping := time.NewTicker(h.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logf("websocket write failed: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (h *RegressionHub) logf(format string, args ...any) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}
