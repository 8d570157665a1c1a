package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs registers the connection and blocks until it is closed.
func ServeWs(hub *Hub, c *websocket.Conn, userId int64, onFrame FrameHandler) {
	client := NewClient(hub, c, userId)
	select {
	case client.Hub.register <- client:
	case <-hub.done:
		c.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	client.readPump(onFrame)
}
