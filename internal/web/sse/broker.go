package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MessageType names an SSE message
type MessageType string

const (
	MessageConnected    MessageType = "connected"
	MessageEventCreated MessageType = "event_created"
	MessageEventDeleted MessageType = "event_deleted"
	MessageHeartbeat    MessageType = "heartbeat"
)

// Message is broadcast to every connected client
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

type client struct {
	id       string
	messages chan []byte
}

// Broker fans event-store changes out to SSE subscribers
type Broker struct {
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	broadcast  chan Message
	done       chan struct{}
	stopOnce   sync.Once
	heartbeat  time.Duration
	mu         sync.RWMutex
}

// NewBroker creates a broker and starts its dispatch loop
func NewBroker(heartbeat time.Duration) *Broker {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	b := &Broker{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message, 100),
		done:       make(chan struct{}),
		heartbeat:  heartbeat,
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			b.mu.Lock()
			for _, c := range b.clients {
				close(c.messages)
			}
			b.clients = make(map[string]*client)
			b.mu.Unlock()
			log.Debug().Msg("SSE broker stopped")
			return

		case c := <-b.register:
			b.mu.Lock()
			b.clients[c.id] = c
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", c.id).Int("total_clients", total).Msg("SSE client connected")

		case c := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[c.id]; ok {
				delete(b.clients, c.id)
				close(c.messages)
			}
			total := len(b.clients)
			b.mu.Unlock()
			log.Debug().Str("client_id", c.id).Int("total_clients", total).Msg("SSE client disconnected")

		case msg := <-b.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Error().Err(err).Msg("Failed to marshal SSE message")
				continue
			}
			frame := formatFrame(msg.Type, data)

			b.mu.RLock()
			for _, c := range b.clients {
				select {
				case c.messages <- frame:
				default:
					log.Warn().Str("client_id", c.id).Msg("SSE client buffer full, dropping message")
				}
			}
			b.mu.RUnlock()

		case <-ticker.C:
			b.Broadcast(Message{Type: MessageHeartbeat, Data: map[string]any{"time": time.Now().Unix()}})
		}
	}
}

// Broadcast queues a message for all clients without blocking
func (b *Broker) Broadcast(msg Message) {
	select {
	case b.broadcast <- msg:
	default:
		log.Warn().Str("type", string(msg.Type)).Msg("SSE broadcast channel full, dropping message")
	}
}

// Stop disconnects all clients and ends the dispatch loop
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// ClientCount returns the number of connected clients
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP streams messages to one subscriber until it disconnects
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	c := &client{id: uuid.NewString(), messages: make(chan []byte, 32)}

	select {
	case b.register <- c:
	case <-b.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		select {
		case b.unregister <- c:
		case <-b.done:
		}
	}()

	hello, _ := json.Marshal(Message{Type: MessageConnected, Data: map[string]any{"client_id": c.id}})
	_, _ = w.Write(formatFrame(MessageConnected, hello))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-c.messages:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}

func formatFrame(t MessageType, data []byte) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", t, data)
}
