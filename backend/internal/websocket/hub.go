package websocket

import (
	"context"
	"log"
	"sync"

	"github.com/goccy/go-json"

	"github.com/user/papertrade/backend/internal/models"
)

// Message types sent to price stream clients.
const (
	TypeSnapshot = "snapshot"
	TypePrice    = "price"
)

// Message is the envelope written to every client.
type Message struct {
	Type   string         `json:"type"`
	Quote  *models.Quote  `json:"quote,omitempty"`
	Quotes []models.Quote `json:"quotes,omitempty"`
}

// Client is one subscriber. The hub owns Send and closes it on unregister.
type Client struct {
	Send chan []byte
	Addr string
}

func NewClient(addr string, buffer int) *Client {
	return &Client{Send: make(chan []byte, buffer), Addr: addr}
}

// Hub fans price updates out to connected clients.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	snapshot   func() []models.Quote
	done       chan struct{}

	mu    sync.RWMutex
	count int
}

// NewHub creates a hub. snapshot, if set, is sent to each client on connect.
func NewHub(snapshot func() []models.Quote) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		snapshot:   snapshot,
		done:       make(chan struct{}),
	}
}

// Register adds c. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c and closes its Send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Run owns the client set until ctx is done or updates is closed.
// All client channels are closed on return.
func (h *Hub) Run(ctx context.Context, updates <-chan models.Quote) {
	log.Println("Starting WebSocket Hub...")
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
		close(h.done)
		log.Println("WebSocket Hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			log.Printf("Client registered: %s", c.Addr)
			if h.snapshot != nil {
				h.deliver(c, Message{Type: TypeSnapshot, Quotes: h.snapshot()})
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				log.Printf("Client unregistered: %s", c.Addr)
			}

		case q, ok := <-updates:
			if !ok {
				return
			}
			msg, err := json.Marshal(Message{Type: TypePrice, Quote: &q})
			if err != nil {
				log.Printf("ERROR: marshalling price update: %v", err)
				continue
			}
			for c := range h.clients {
				h.send(c, msg)
			}
		}
	}
}

func (h *Hub) deliver(c *Client, m Message) {
	msg, err := json.Marshal(m)
	if err != nil {
		log.Printf("ERROR: marshalling %s message: %v", m.Type, err)
		return
	}
	h.send(c, msg)
}

// send never blocks; a client whose buffer is full is dropped.
func (h *Hub) send(c *Client, msg []byte) {
	select {
	case c.Send <- msg:
	default:
		log.Printf("WARN: client send buffer full, closing connection: %s", c.Addr)
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}
