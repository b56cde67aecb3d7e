package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/transport"
)

const readTimeout = 2 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.HTTPAddr = ""
	cfg.ReapInterval = time.Hour
	cfg.WriteTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// peer is the far end of a connection under test.
type peer struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func newPeer(t *testing.T, conn net.Conn) *peer {
	return &peer{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (p *peer) send(line string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetWriteDeadline(time.Now().Add(readTimeout)))
	_, err := p.conn.Write([]byte(line + "\n"))
	require.NoError(p.t, err)
}

func (p *peer) read() (string, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return "", err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (p *peer) expect(want string) {
	p.t.Helper()
	got, err := p.read()
	require.NoError(p.t, err, "waiting for %q", want)
	require.Equal(p.t, want, got)
}

// expectSet reads len(want) lines and compares them ignoring order.
func (p *peer) expectSet(want ...string) {
	p.t.Helper()
	got := make([]string, 0, len(want))
	for range want {
		line, err := p.read()
		require.NoError(p.t, err)
		got = append(got, line)
	}
	require.ElementsMatch(p.t, want, got)
}

func (p *peer) expectNothing(d time.Duration) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))
	line, err := p.reader.ReadString('\n')
	require.Error(p.t, err, "unexpected line %q", line)
	var netErr net.Error
	require.ErrorAs(p.t, err, &netErr)
	require.True(p.t, netErr.Timeout(), "expected timeout, got %v", err)
}

func (p *peer) expectClosed() {
	p.t.Helper()
	for {
		line, err := p.read()
		if err != nil {
			require.True(p.t, transport.IsDisconnect(err), "expected disconnect, got %v", err)
			return
		}
		p.t.Logf("discarding %q before close", line)
	}
}

func (p *peer) login(name string) {
	p.t.Helper()
	p.send("LOGIN " + name)
	p.expect(replyOK)
}

// newPipeClient returns a Client over an in-memory pipe with its write pump
// running, and the peer end.
func newPipeClient(t *testing.T, cfg Config) (*Client, *peer) {
	t.Helper()
	local, remote := net.Pipe()
	client := NewClient(transport.NewStreamConn(local, cfg.MaxLineSize), cfg, quietLogger())
	go client.writePump()
	t.Cleanup(func() {
		client.Kill()
		_ = remote.Close()
	})
	return client, newPeer(t, remote)
}

// startServer serves s on a loopback listener until the test ends.
func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String()
}

func dialPeer(t *testing.T, addr string) *peer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, readTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return newPeer(t, conn)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, readTimeout, 5*time.Millisecond, msg)
}
