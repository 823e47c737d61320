package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients.
type Msg struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// Hub manages per-order WebSocket rooms plus a per-user channel for
// notifications. Connections subscribe to order rooms explicitly; the
// user channel is bound from the authenticated principal at connect.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*conn]bool // orderID -> set of conns
	users map[string]map[*conn]bool // userID -> set of conns
}

type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID string
	order  string

	mu     sync.Mutex
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*conn]bool),
		users: make(map[string]map[*conn]bool),
	}
}

// PublishOrder sends a message to all subscribers of an order room.
func (h *Hub) PublishOrder(orderID, msgType string, data any) {
	h.mu.RLock()
	conns := snapshot(h.rooms[orderID])
	h.mu.RUnlock()
	h.send(conns, Msg{Type: msgType, Topic: orderID, Data: data})
}

// PublishUser sends a message to every connection a user holds.
func (h *Hub) PublishUser(userID, msgType string, data any) {
	h.mu.RLock()
	conns := snapshot(h.users[userID])
	h.mu.RUnlock()
	h.send(conns, Msg{Type: msgType, Topic: userID, Data: data})
}

// snapshot copies a conn set while the hub lock is held, so delivery
// can run without racing removeConn's deletes.
func snapshot(set map[*conn]bool) []*conn {
	conns := make([]*conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) send(conns []*conn, msg Msg) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, c := range conns {
		c.trySend(b)
	}
}

// trySend drops the message if the client is slow or already gone.
// The closed check and the channel send share c.mu with the close in
// removeConn, so a send cannot hit a closed channel.
func (c *conn) trySend(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// slow client, drop
	}
}

// HandleWS upgrades an authenticated request; userID comes from the API
// layer's session middleware.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, userID string) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	c := &conn{
		ws:     wsConn,
		send:   make(chan []byte, 64),
		hub:    h,
		userID: userID,
	}
	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*conn]bool)
	}
	h.users[userID][c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		// Subscription message: {"action":"subscribe","order_id":"..."}
		var sub struct {
			Action  string `json:"action"`
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.OrderID)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.OrderID)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *conn, orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.order != "" {
		if room, ok := h.rooms[c.order]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.order)
			}
		}
	}
	c.order = orderID
	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[orderID] = room
	}
	room[c] = true
}

func (h *Hub) unsubscribe(c *conn, orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[orderID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, orderID)
		}
	}
	if c.order == orderID {
		c.order = ""
	}
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}
	if c.order != "" {
		if room, ok := h.rooms[c.order]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.order)
			}
		}
	}
	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}
