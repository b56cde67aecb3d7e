// Package server routes client lines: the login handshake, then one command
// per line until the connection ends.
package server

import (
	"errors"
	"log/slog"
	"strings"
)

// errSessionGone ends a command loop whose session was removed by another
// actor, normally the idle reaper.
var errSessionGone = errors.New("session no longer registered")

// Router parses client lines and invokes the registry and broadcaster.
type Router struct {
	registry    *Registry
	broadcaster *Broadcaster
	metrics     *Metrics
	logger      *slog.Logger
}

// NewRouter creates a Router. metrics may be nil.
func NewRouter(registry *Registry, broadcaster *Broadcaster, metrics *Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:    registry,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
	}
}

// Login reads lines from c until one logs it in. Every rejected line gets
// exactly one ERR reply and the handshake keeps waiting. The error is only
// non-nil when reading fails, io.EOF included; no session exists then.
func (r *Router) Login(c *Client) (Session, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			return Session{}, err
		}

		if !c.rateLimiter.allow() {
			r.reject(c, ErrRateLimited)
			continue
		}

		cmd := ParseCommand(line)
		if cmd.Kind != CommandLogin {
			r.reject(c, ErrMustLoginFirst)
			continue
		}
		if cmd.Arg == "" {
			r.metrics.login("invalid")
			r.reject(c, ErrInvalidUsername)
			continue
		}

		session, err := r.registry.RegisterFunc(c, cmd.Arg, func(Session) {
			if err := c.Send(replyOK); err != nil {
				r.logger.Debug("failed to acknowledge login", "conn", c.ID(), "err", err)
			}
		})
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				r.metrics.login("rejected")
				r.reject(c, perr)
				continue
			}
			return Session{}, err
		}

		r.metrics.login("ok")
		r.metrics.setSessions(r.registry.Len())
		r.logger.Info("user logged in", "user", session.Username, "addr", c.Addr())
		return session, nil
	}
}

// Serve runs the command loop for a logged-in client until reading fails or
// the session disappears from the registry. io.EOF means the peer hung up.
func (r *Router) Serve(c *Client, session Session) error {
	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if !r.registry.Touch(c) {
			return errSessionGone
		}
		r.Dispatch(c, session.Username, line)
	}
}

// Dispatch handles one line from the client logged in as username.
func (r *Router) Dispatch(c *Client, username, line string) {
	if !c.rateLimiter.allow() {
		r.reject(c, ErrRateLimited)
		return
	}

	cmd := ParseCommand(line)
	switch cmd.Kind {
	case CommandMsg:
		if cmd.Arg == "" {
			return
		}
		r.broadcaster.Broadcast(username, cmd.Arg)

	case CommandWho:
		r.broadcaster.Presence(c)

	case CommandDM:
		if cmd.Err != nil {
			r.reject(c, ErrInvalidDMFormat)
			return
		}
		if err := r.broadcaster.Direct(c, username, cmd.Arg, cmd.Text); err != nil {
			r.metrics.protocolError(ErrUserNotFound.Reason)
		}

	case CommandPing:
		r.reply(c, replyPong)

	default:
		r.logger.Debug("unknown command", "user", username, "line", truncate(line, 64))
		r.reject(c, ErrUnknownCommand)
	}
}

func (r *Router) reject(c *Client, perr *ProtocolError) {
	r.metrics.protocolError(perr.Reason)
	r.reply(c, perr.Line())
}

func (r *Router) reply(c *Client, line string) {
	if err := c.Send(line); err != nil {
		r.logger.Debug("failed to reply", "conn", c.ID(), "err", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
