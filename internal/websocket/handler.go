package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gozon/checkout/internal/httpapi"
	"gozon/checkout/internal/order"

	gw "github.com/gorilla/websocket"
)

type Conn = gw.Conn

const writeWait = 10 * time.Second

var upgrader = gw.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type OrderReader interface {
	Get(ctx context.Context, id string, p order.Principal) (*order.Order, error)
}

type Handler struct {
	hub    *Hub
	orders OrderReader
	logger *slog.Logger
}

func NewHandler(hub *Hub, orders OrderReader, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, orders: orders, logger: logger}
}

// ServeWS streams state changes of one order. The caller must be allowed to
// act on the order; the current state is sent right after the upgrade.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	principal, err := httpapi.PrincipalFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	orderID := r.PathValue("orderID")
	o, err := h.orders.Get(r.Context(), orderID, principal)
	if err != nil {
		var denied *order.Error
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.As(err, &denied):
			http.Error(w, denied.Message, http.StatusForbidden)
		default:
			h.logger.Error("load order for websocket", "order_id", orderID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		orderID: orderID,
	}

	// queued before registration so the hub is the only one closing send
	upd := OrderUpdate{OrderID: o.ID, State: o.State.Symbol(), StateExpiresAt: o.StateExpiresAt}
	if b, err := json.Marshal(upd); err == nil {
		client.send <- b
	}

	if !h.hub.Register(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(gw.CloseMessage, gw.FormatCloseMessage(gw.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
