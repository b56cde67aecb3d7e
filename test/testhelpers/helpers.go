// Package testhelpers provides common utilities for driving a linechat server
// end to end in tests.
//
// It starts servers on loopback listeners and offers small line-protocol
// clients for TCP and WebSocket so integration tests read like protocol
// transcripts.
package testhelpers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/linechat/internal/server"
)

// ReadTimeout bounds every expectation.
const ReadTimeout = 3 * time.Second

// TestOrigin is allowed by TestConfig for WebSocket connections.
const TestOrigin = "http://localhost:8080"

// QuietLogger discards all log output.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestConfig returns a configuration suitable for loopback tests: ephemeral
// port, no HTTP side-channel of its own, and a reaper that never fires on
// its own.
func TestConfig() server.Config {
	cfg := *server.NewConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.HTTPAddr = ""
	cfg.ReapInterval = time.Hour
	cfg.WriteTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.AllowedOrigins = []string{TestOrigin}
	return cfg
}

// Running is a server started by StartServer.
type Running struct {
	Server *server.Server
	Addr   string
	HTTP   *httptest.Server
	done   chan error
	cancel context.CancelFunc
}

// StartServer serves s on a loopback listener and its HTTP routes on an
// httptest server. Both stop when the test ends.
func StartServer(t *testing.T, s *server.Server) *Running {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Running{
		Server: s,
		Addr:   ln.Addr().String(),
		HTTP:   httptest.NewServer(server.SetupRoutes(s)),
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() { r.done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() {
		r.HTTP.Close()
		r.Stop(t)
	})
	return r
}

// Stop cancels the server and waits for Serve to return. It is safe to call
// more than once.
func (r *Running) Stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err, ok := <-r.done:
		if ok && err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
		if ok {
			close(r.done)
		}
	case <-time.After(5 * time.Second):
		t.Error("Server did not stop in time")
	}
}

// WebSocketURL returns the ws:// URL of the line endpoint.
func (r *Running) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(r.HTTP.URL, "http") + "/ws"
}

// LineClient speaks the chat protocol over one connection.
type LineClient interface {
	Send(line string) error
	Read() (string, error)
	Close() error
}

// TCPClient is a LineClient over a TCP connection.
type TCPClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

// DialTCP connects to addr and closes the connection when the test ends.
func DialTCP(t *testing.T, addr string) *TCPClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, ReadTimeout)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &TCPClient{conn: conn, reader: bufio.NewReader(conn)}
}

// Send writes line with its terminator.
func (c *TCPClient) Send(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// Read returns the next line without its terminator.
func (c *TCPClient) Read() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// Close closes the connection.
func (c *TCPClient) Close() error {
	return c.conn.Close()
}

// WSClient is a LineClient over a WebSocket connection.
type WSClient struct {
	conn *websocket.Conn
}

// DialWebSocket connects to url with the test origin.
func DialWebSocket(t *testing.T, url string) *WSClient {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: ReadTimeout}
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &WSClient{conn: conn}
}

// Send writes line as a single text message.
func (c *WSClient) Send(line string) error {
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// Read returns the next text message.
func (c *WSClient) Read() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return "", err
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close sends a normal close frame and closes the connection.
func (c *WSClient) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Send sends line or fails the test.
func Send(t *testing.T, c LineClient, line string) {
	t.Helper()
	if err := c.Send(line); err != nil {
		t.Fatalf("Failed to send %q: %v", line, err)
	}
}

// Expect reads one line and fails the test unless it equals want.
func Expect(t *testing.T, c LineClient, want string) {
	t.Helper()
	got, err := c.Read()
	if err != nil {
		t.Fatalf("Expected %q, got error: %v", want, err)
	}
	if got != want {
		t.Fatalf("Expected %q, got %q", want, got)
	}
}

// ExpectUnordered reads len(want) lines and compares them as a set.
func ExpectUnordered(t *testing.T, c LineClient, want ...string) {
	t.Helper()
	remaining := make(map[string]int, len(want))
	for _, w := range want {
		remaining[w]++
	}
	for range want {
		got, err := c.Read()
		if err != nil {
			t.Fatalf("Expected one of %v, got error: %v", want, err)
		}
		if remaining[got] == 0 {
			t.Fatalf("Unexpected line %q, expected one of %v", got, want)
		}
		remaining[got]--
	}
}

// ExpectClosed reads until the server closes the connection.
func ExpectClosed(t *testing.T, c LineClient) {
	t.Helper()
	for {
		line, err := c.Read()
		if err == nil {
			t.Logf("Discarding %q before close", line)
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("Connection was not closed: %v", err)
		}
		return
	}
}

// Login sends LOGIN name and expects OK.
func Login(t *testing.T, c LineClient, name string) {
	t.Helper()
	Send(t, c, "LOGIN "+name)
	Expect(t, c, "OK")
}
