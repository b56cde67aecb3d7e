package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const closeWriteWait = time.Second

// WebSocketConn carries one protocol line per WebSocket text message.
type WebSocketConn struct {
	conn *websocket.Conn
	addr string
}

// NewWebSocketConn wraps an upgraded connection. addr is the peer address as
// seen by the HTTP server. maxLineSize <= 0 selects DefaultMaxLineSize.
func NewWebSocketConn(conn *websocket.Conn, addr string, maxLineSize int) *WebSocketConn {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	// Clients may append the stream terminator; allow for "\r\n".
	conn.SetReadLimit(int64(maxLineSize + 2))
	if addr == "" {
		addr = conn.RemoteAddr().String()
	}
	return &WebSocketConn{conn: conn, addr: addr}
}

// ReadLine returns the next text message. Normal close frames are io.EOF.
func (c *WebSocketConn) ReadLine() (string, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return "", ErrLineTooLong
		}
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
			websocket.CloseAbnormalClosure) {
			return "", io.EOF
		}
		return "", fmt.Errorf("read message: %w", err)
	}
	if messageType != websocket.TextMessage {
		return "", ErrUnsupportedFrame
	}

	line := strings.TrimSuffix(string(data), "\n")
	line = strings.TrimSuffix(line, "\r")
	if strings.ContainsRune(line, '\n') {
		return "", ErrEmbeddedNewline
	}
	if !utf8.ValidString(line) {
		return "", ErrInvalidUTF8
	}
	return line, nil
}

// WriteLine sends line as a single text message.
func (c *WebSocketConn) WriteLine(line string) error {
	if err := validateOutbound(line); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// SetWriteDeadline bounds the next WriteLine.
func (c *WebSocketConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close sends a best-effort close frame and closes the connection.
func (c *WebSocketConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteWait))
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *WebSocketConn) RemoteAddr() string {
	return c.addr
}
