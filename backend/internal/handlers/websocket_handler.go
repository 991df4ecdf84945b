package handlers

import (
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	ws "github.com/user/papertrade/backend/internal/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// PriceStream serves the public price feed. The connection is closed when
// this returns, so the read loop runs here and writes run alongside it.
func (h *Handler) PriceStream(c *websocket.Conn) {
	client := ws.NewClient(c.RemoteAddr().String(), sendBuffer)
	if !h.hub.Register(client) {
		return
	}
	log.Printf("WebSocket connection established: %s", client.Addr)

	done := make(chan struct{})
	go func() {
		writePump(c, client)
		close(done)
	}()

	readPump(c)
	h.hub.Unregister(client)
	<-done
}

// writePump pumps messages from the hub to the websocket connection.
func writePump(c *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("Error writing message to %s: %v", client.Addr, err)
				return
			}
		case <-ticker.C:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and returns when the peer goes away.
func readPump(c *websocket.Conn) {
	c.SetReadLimit(maxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Client disconnected unexpectedly %s: %v", c.RemoteAddr(), err)
			}
			return
		}
	}
}
