package transport

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

// startEcho serves a WebSocketConn that echoes every line back prefixed with
// "ECHO " and reports the error that ended it.
func startEcho(t *testing.T, maxLine int) (string, <-chan error) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ended := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ended <- err
			return
		}
		conn := NewWebSocketConn(ws, r.RemoteAddr, maxLine)
		defer conn.Close()
		for {
			line, err := conn.ReadLine()
			if err != nil {
				ended <- err
				return
			}
			if err := conn.WriteLine("ECHO " + line); err != nil {
				ended <- err
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), ended
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitEnded(t *testing.T, ended <-chan error) error {
	t.Helper()
	select {
	case err := <-ended:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("server side did not finish")
		return nil
	}
}

func TestWebSocketConnRoundTrip(t *testing.T) {
	url, ended := startEcho(t, 0)
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("MSG hi\n")))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ECHO MSG hi", string(data))

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.ErrorIs(t, waitEnded(t, ended), io.EOF)
}

func TestWebSocketConnRejectsBinary(t *testing.T) {
	url, ended := startEcho(t, 0)
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	assert.ErrorIs(t, waitEnded(t, ended), ErrUnsupportedFrame)
}

func TestWebSocketConnRejectsEmbeddedNewline(t *testing.T) {
	url, ended := startEcho(t, 0)
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("MSG a\nMSG b")))
	assert.ErrorIs(t, waitEnded(t, ended), ErrEmbeddedNewline)
}

func TestWebSocketConnLineTooLong(t *testing.T) {
	url, ended := startEcho(t, 8)
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("MSG much too long for eight bytes")))
	assert.ErrorIs(t, waitEnded(t, ended), ErrLineTooLong)
}
