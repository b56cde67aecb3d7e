// Package transport frames the chat protocol's newline-terminated UTF-8 lines
// over a byte stream or over WebSocket text messages.
//
// Both implementations satisfy LineConn and report a clean end of stream as
// io.EOF so callers can tell a peer hanging up apart from a malformed read.
package transport
