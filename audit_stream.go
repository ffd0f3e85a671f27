package woolfarm

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// AuditStreamConfig configures the audit event broadcaster.
type AuditStreamConfig struct {
	// BufferSize is the per-subscriber channel buffer. Events are dropped
	// for subscribers that fall behind.
	BufferSize int `yaml:"buffer_size"`
	// PingInterval is the websocket keepalive period.
	PingInterval time.Duration `yaml:"ping_interval"`
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultAuditStreamConfig returns sensible streaming defaults.
func DefaultAuditStreamConfig() AuditStreamConfig {
	return AuditStreamConfig{
		BufferSize:   64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// AuditStream broadcasts audit events to websocket subscribers. It
// implements AuditSink so it can sit next to a log sink in a
// MultiAuditSink.
type AuditStream struct {
	mu     sync.RWMutex
	subs   map[string]*auditSubscriber
	config AuditStreamConfig
	closed bool
}

type auditSubscriber struct {
	id string
	ch chan AuditEvent
}

var auditUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewAuditStream creates an audit event broadcaster.
func NewAuditStream(config AuditStreamConfig) *AuditStream {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &AuditStream{
		subs:   make(map[string]*auditSubscriber),
		config: config,
	}
}

// Subscribe registers a new subscriber and returns its id and event
// channel.
func (s *AuditStream) Subscribe() (string, <-chan AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &auditSubscriber{
		id: uuid.NewString(),
		ch: make(chan AuditEvent, s.config.BufferSize),
	}
	s.subs[sub.id] = sub
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *AuditStream) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// Emit broadcasts the event to all subscribers. Subscribers with full
// buffers miss the event rather than block the sync path.
func (s *AuditStream) Emit(event AuditEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	for _, sub := range s.subs {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (s *AuditStream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close shuts down the stream and disconnects all subscribers.
func (s *AuditStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// auditStreamMessage is the wire envelope sent to websocket clients.
type auditStreamMessage struct {
	Type  string     `json:"type"`
	Event AuditEvent `json:"event"`
}

// WebSocketHandler returns an http.Handler that upgrades the connection
// and streams audit events until the client disconnects.
func (s *AuditStream) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := auditUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, events := s.Subscribe()
		defer s.Unsubscribe(id)

		// Reader goroutine: only used to detect disconnects.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(s.config.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				msg := auditStreamMessage{Type: "audit", Event: event}
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}
