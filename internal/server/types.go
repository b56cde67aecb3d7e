// Package server defines the protocol error values and the wire formats of the
// lines the server sends, shared by the router, broadcaster, and reaper.
package server

import (
	"errors"
	"strings"
)

// ProtocolError is a recoverable per-command failure reported to the
// offending connection as "ERR <reason>".
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Line returns the wire form of the error.
func (e *ProtocolError) Line() string {
	return "ERR " + e.Reason
}

var (
	ErrInvalidUsername = &ProtocolError{Reason: "invalid-username"}
	ErrUsernameTaken   = &ProtocolError{Reason: "username-taken"}
	ErrMustLoginFirst  = &ProtocolError{Reason: "must-login-first"}
	ErrInvalidDMFormat = &ProtocolError{Reason: "invalid-dm-format"}
	ErrUserNotFound    = &ProtocolError{Reason: "user-not-found"}
	ErrUnknownCommand  = &ProtocolError{Reason: "unknown-command"}
	ErrRateLimited     = &ProtocolError{Reason: "rate-limited"}
)

var (
	// ErrClientClosed is returned when sending to a client that is shutting down.
	ErrClientClosed = errors.New("client closed")
	// ErrSendQueueFull is returned when a recipient is not draining its queue.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrAlreadyRegistered is returned when a client that holds a session
	// tries to register again. It never reaches the wire.
	ErrAlreadyRegistered = errors.New("client already registered")
)

const (
	replyOK   = "OK"
	replyPong = "PONG"

	idleTimeoutNotice = "idle-timeout"
)

func msgLine(sender, text string) string { return "MSG " + sender + " " + text }

func dmLine(sender, text string) string { return "DM " + sender + " " + text }

func userLine(username string) string { return "USER " + username }

func infoLine(text string) string { return "INFO " + text }

func departureNotice(username string) string { return username + " disconnected" }

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "io: read/write on closed pipe") ||
		strings.Contains(errStr, "broken pipe")
}
