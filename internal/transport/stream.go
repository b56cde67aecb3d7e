package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"
)

// StreamConn frames lines over a net.Conn such as a TCP socket.
type StreamConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxLine int
}

// NewStreamConn wraps conn. maxLineSize <= 0 selects DefaultMaxLineSize.
func NewStreamConn(conn net.Conn, maxLineSize int) *StreamConn {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	// +2 leaves room for an optional '\r' and the '\n' itself.
	return &StreamConn{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, maxLineSize+2),
		maxLine: maxLineSize,
	}
}

// ReadLine returns the next newline-terminated frame. A trailing '\r' is
// dropped. Bytes received without a terminator before the peer closes are
// discarded and reported as io.EOF.
func (c *StreamConn) ReadLine() (string, error) {
	frame, err := c.reader.ReadSlice('\n')
	if err != nil {
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			return "", ErrLineTooLong
		case errors.Is(err, io.EOF):
			return "", io.EOF
		default:
			return "", fmt.Errorf("read line: %w", err)
		}
	}

	line := bytes.TrimSuffix(frame[:len(frame)-1], []byte{'\r'})
	if len(line) > c.maxLine {
		return "", ErrLineTooLong
	}
	if !utf8.Valid(line) {
		return "", ErrInvalidUTF8
	}
	return string(line), nil
}

// WriteLine writes line and its terminator in a single write.
func (c *StreamConn) WriteLine(line string) error {
	if err := validateOutbound(line); err != nil {
		return err
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// SetWriteDeadline bounds the next WriteLine.
func (c *StreamConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close closes the underlying connection, unblocking any pending ReadLine.
func (c *StreamConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
