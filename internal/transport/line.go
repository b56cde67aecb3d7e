package transport

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// DefaultMaxLineSize bounds a single frame, newline excluded.
const DefaultMaxLineSize = 4096

var (
	// ErrLineTooLong is returned when a frame exceeds the configured maximum.
	ErrLineTooLong = errors.New("transport: line too long")
	// ErrInvalidUTF8 is returned when a received frame is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("transport: line is not valid utf-8")
	// ErrEmbeddedNewline is returned when a frame would contain a newline.
	ErrEmbeddedNewline = errors.New("transport: line contains a newline")
	// ErrUnsupportedFrame is returned for non-text WebSocket messages.
	ErrUnsupportedFrame = errors.New("transport: unsupported frame type")
)

// LineConn is a connection exchanging one protocol line at a time.
//
// ReadLine is called by a single reader and WriteLine by a single writer;
// Close and SetWriteDeadline may be called concurrently with either.
type LineConn interface {
	// ReadLine blocks for the next frame and returns it without the
	// terminator. A clean end of stream is io.EOF.
	ReadLine() (string, error)
	// WriteLine writes line followed by the frame terminator.
	WriteLine(line string) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// IsDisconnect reports whether err is the ordinary end of a connection
// rather than a fault worth reporting.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe")
}

func validateOutbound(line string) error {
	if strings.ContainsRune(line, '\n') {
		return ErrEmbeddedNewline
	}
	return nil
}
