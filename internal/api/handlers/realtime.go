package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/agentx/chatbot-backend/internal/services"
)

var errConnClosed = errors.New("connection closed")

// wsConn adapts a websocket connection to services.Conn. Writes are
// serialized and refused once a close frame has been sent.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteText(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errConnClosed
	}
	return w.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (w *wsConn) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errConnClosed
	}
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Close(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.conn.Close()
}

// RequireUpgrade lets only websocket upgrade requests through
func RequireUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Realtime serves /chat-session/ws/:id/?token=... The token is checked after
// the upgrade so rejections arrive as close frames.
func Realtime(svc *services.Services) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		conn := &wsConn{conn: c}
		svc.Realtime.Serve(context.Background(), conn, c.Params("id"), c.Query("token"))
		_ = conn.Close(services.CloseNormal, "")
	})
}
