// internal/notify/notify.go
package notify

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nutrivision/internal/models"
)

type Kind string

const (
	KindSession  Kind = "session.updated"
	KindToast    Kind = "toast"
	KindReminder Kind = "reminder"
	KindHistory  Kind = "history.updated"
	KindSettings Kind = "settings.updated"
	KindChat     Kind = "chat.updated"
)

type Event struct {
	Kind    Kind `json:"kind"`
	Payload any  `json:"payload,omitempty"`
}

// Notifier receives events for every connected front end.
type Notifier interface {
	Publish(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

const (
	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans events out to every websocket client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Publish(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Printf("Failed to marshal %s event: %v", ev.Kind, err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			h.unregister(c)
		}
	}
}

// Serve upgrades the request and blocks until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn}
	h.register(c)

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					h.unregister(c)
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		_ = c.conn.Close()
	}
}

const ToastDuration = 5 * time.Second

// Toaster keeps at most one visible toast. A new toast replaces the current
// one and restarts the dismissal timer.
type Toaster struct {
	notifier Notifier
	ttl      time.Duration

	mu    sync.Mutex
	cur   models.Toast
	gen   uint64
	timer *time.Timer
}

func NewToaster(n Notifier, ttl time.Duration) *Toaster {
	if n == nil {
		n = Discard
	}
	if ttl <= 0 {
		ttl = ToastDuration
	}
	return &Toaster{notifier: n, ttl: ttl}
}

func (t *Toaster) Show(message string) {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.cur = models.Toast{Message: message, Visible: true}
	t.timer = time.AfterFunc(t.ttl, func() { t.dismiss(gen) })
	toast := t.cur
	t.mu.Unlock()

	t.notifier.Publish(Event{Kind: KindToast, Payload: toast})
}

func (t *Toaster) Dismiss() {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()
	t.dismiss(gen)
}

func (t *Toaster) dismiss(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.cur.Visible {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.cur.Visible = false
	toast := t.cur
	t.mu.Unlock()

	t.notifier.Publish(Event{Kind: KindToast, Payload: toast})
}

func (t *Toaster) Current() models.Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}
