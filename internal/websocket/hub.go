package websocket

import (
	"context"
	"encoding/json"
	"time"
)

type OrderUpdate struct {
	OrderID        string     `json:"order_id"`
	State          string     `json:"state"`
	StateExpiresAt *time.Time `json:"state_expires_at,omitempty"`
}

type Client struct {
	hub     *Hub
	conn    *Conn
	send    chan []byte
	orderID string
}

const defaultBroadcastWait = time.Second

// Hub fans order updates out to the websocket clients watching that order.
// Updates reach clients in the order Broadcast was called.
type Hub struct {
	register      chan *Client
	unregister    chan *Client
	broadcast     chan OrderUpdate
	done          chan struct{}
	clients       map[string]map[*Client]bool
	broadcastWait time.Duration
}

func NewHub() *Hub {
	return &Hub{
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan OrderUpdate, 64),
		done:          make(chan struct{}),
		clients:       make(map[string]map[*Client]bool),
		broadcastWait: defaultBroadcastWait,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			h.drop(c)
		case upd := <-h.broadcast:
			msg, err := json.Marshal(upd)
			if err != nil {
				continue
			}
			for c := range h.clients[upd.OrderID] {
				select {
				case c.send <- msg:
				default:
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			close(h.done)
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	set, ok := h.clients[c.orderID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.orderID)
	}
}

// Register adds c to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues an update, waiting at most broadcastWait for room. It
// reports false when the update was dropped.
func (h *Hub) Broadcast(u OrderUpdate) bool {
	select {
	case h.broadcast <- u:
		return true
	case <-h.done:
		return false
	default:
	}

	timer := time.NewTimer(h.broadcastWait)
	defer timer.Stop()
	select {
	case h.broadcast <- u:
		return true
	case <-h.done:
		return false
	case <-timer.C:
		return false
	}
}
