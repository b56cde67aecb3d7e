package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPFixture(t *testing.T) (*Server, string, *httptest.Server) {
	t.Helper()
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"http://localhost:8080"}
	s := NewServer(cfg, WithLogger(quietLogger()), WithMetrics(NewMetrics()))
	addr := startServer(t, s)

	httpServer := httptest.NewServer(SetupRoutes(s))
	t.Cleanup(httpServer.Close)
	return s, addr, httpServer
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dialWS(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: readTimeout}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wsSend(t *testing.T, conn *websocket.Conn, line string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(line)))
}

func wsExpect(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "waiting for %q", want)
	require.Equal(t, want, string(data))
}

func TestHealthHandler(t *testing.T) {
	_, _, httpServer := newHTTPFixture(t)

	resp, err := http.Get(httpServer.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, "linechat server is running (0 sessions)", string(body))
}

func TestWebSocketMethodNotAllowed(t *testing.T) {
	_, _, httpServer := newHTTPFixture(t)

	resp, err := http.Post(httpServer.URL+"/ws", "text/plain", strings.NewReader("LOGIN alice"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketAndTCPClientsShareRegistry(t *testing.T) {
	s, addr, httpServer := newHTTPFixture(t)

	tcp := dialPeer(t, addr)
	tcp.login("alice")

	header := http.Header{}
	header.Set("Origin", "http://localhost:8080")
	ws := dialWS(t, wsURL(httpServer.URL), header)

	wsSend(t, ws, "WHO")
	wsExpect(t, ws, "ERR must-login-first")
	wsSend(t, ws, "LOGIN alice")
	wsExpect(t, ws, "ERR username-taken")
	wsSend(t, ws, "LOGIN bob")
	wsExpect(t, ws, "OK")

	tcp.send("MSG hi from tcp")
	tcp.expect("MSG alice hi from tcp")
	wsExpect(t, ws, "MSG alice hi from tcp")

	wsSend(t, ws, "DM alice hi from ws")
	tcp.expect("DM bob hi from ws")

	assert.Equal(t, 2, s.Registry().Len())

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	tcp.expect("INFO bob disconnected")
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	_, _, httpServer := newHTTPFixture(t)

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	dialer := websocket.Dialer{HandshakeTimeout: readTimeout}
	conn, resp, err := dialer.Dial(wsURL(httpServer.URL), header)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, addr, httpServer := newHTTPFixture(t)

	a := dialPeer(t, addr)
	a.login("alice")
	a.send("MSG hello")
	a.expect("MSG alice hello")
	a.send("BOGUS")
	a.expect("ERR unknown-command")

	resp, err := http.Get(httpServer.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "linechat_sessions_active 1")
	assert.Contains(t, text, `linechat_logins_total{result="ok"} 1`)
	assert.Contains(t, text, `linechat_routed_total{kind="msg"} 1`)
	assert.Contains(t, text, `linechat_protocol_errors_total{reason="unknown-command"} 1`)
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{" HTTP://Example.com ", "not a url", ""}, quietLogger())

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, p.checkOrigin(req("http://example.com")))
	assert.True(t, p.checkOrigin(req("")), "non-browser clients send no origin")
	assert.False(t, p.checkOrigin(req("http://other.com")))

	all := newOriginPolicy([]string{"*"}, quietLogger())
	assert.True(t, all.checkOrigin(req("http://anything.example")))
}
