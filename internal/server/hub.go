package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/richinsley/sketch2go/client"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

type subscriber struct {
	conn     *websocket.Conn
	clientID string
	send     chan client.Event
}

// Hub fans generation events out to every connected /events websocket
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
	upgrader    websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeWS upgrades the request and streams events until the peer goes away
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] upgrade failed: %v", err)
		return
	}

	sub := &subscriber{
		conn:     conn,
		clientID: r.URL.Query().Get("clientId"),
		send:     make(chan client.Event, sendBuffer),
	}
	if !h.add(sub) {
		conn.Close()
		return
	}
	log.Printf("[events] subscriber connected client=%s", sub.clientID)

	go h.writeLoop(sub)

	// Inbound messages are ignored; reading is only how a close is noticed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(sub)
	log.Printf("[events] subscriber disconnected client=%s", sub.clientID)
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for ev := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteJSON(ev); err != nil {
			log.Printf("[events] write to client=%s failed: %v", sub.clientID, err)
			return
		}
	}
	sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
	sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subscribers[sub] = struct{}{}
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// Subscribers returns the number of connected peers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Broadcast queues ev for every subscriber. A subscriber whose queue is full misses the event.
func (h *Hub) Broadcast(ev client.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- ev:
		default:
			log.Printf("[events] dropping %s event for slow client=%s", ev.Type, sub.clientID)
		}
	}
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}
