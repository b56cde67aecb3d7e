// Package server builds outbound lines for broadcast, direct messages,
// presence lists, and informational notices, and delivers them to sessions.
package server

import (
	"log/slog"
)

// Broadcaster fans lines out to registry sessions. Recipients are taken from
// a Snapshot and every send happens outside the registry lock; one failed
// recipient never aborts delivery to the rest.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry. metrics may be nil.
func NewBroadcaster(registry *Registry, metrics *Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, metrics: metrics, logger: logger}
}

// Broadcast delivers "MSG <sender> <text>" to every session, sender included,
// and returns the number of recipients it was queued for.
func (b *Broadcaster) Broadcast(sender, text string) int {
	line := msgLine(sender, text)
	sessions := b.registry.Snapshot()

	delivered := 0
	for _, s := range sessions {
		if err := s.Client.Send(line); err != nil {
			b.logger.Warn("failed to deliver message", "from", sender, "to", s.Username, "err", err)
			b.metrics.sendFailed()
			continue
		}
		delivered++
	}

	b.metrics.routed("msg")
	b.logger.Debug("broadcast message", "from", sender, "recipients", delivered)
	return delivered
}

// Direct delivers "DM <sender> <text>" to target. If target is not logged in
// it replies ERR user-not-found on from, the sender's own connection, and
// returns ErrUserNotFound.
func (b *Broadcaster) Direct(from *Client, sender, target, text string) error {
	recipient, ok := b.registry.LookupByUsername(target)
	if !ok {
		if err := from.Send(ErrUserNotFound.Line()); err != nil {
			b.logger.Debug("failed to report unknown dm target", "from", sender, "err", err)
		}
		return ErrUserNotFound
	}

	if err := recipient.Client.Send(dmLine(sender, text)); err != nil {
		b.logger.Warn("failed to deliver direct message", "from", sender, "to", target, "err", err)
		b.metrics.sendFailed()
		return nil
	}

	b.metrics.routed("dm")
	b.logger.Debug("direct message", "from", sender, "to", target)
	return nil
}

// Presence sends one "USER <name>" line per session, in login order, to the
// requesting client only.
func (b *Broadcaster) Presence(to *Client) int {
	sessions := b.registry.Snapshot()

	sent := 0
	for _, s := range sessions {
		if err := to.Send(userLine(s.Username)); err != nil {
			continue
		}
		sent++
	}

	b.metrics.routed("who")
	return sent
}

// Info delivers "INFO <text>" to every session, swallowing failures.
func (b *Broadcaster) Info(text string) int {
	line := infoLine(text)
	sessions := b.registry.Snapshot()

	sent := 0
	for _, s := range sessions {
		if err := s.Client.Send(line); err != nil {
			continue
		}
		sent++
	}

	b.metrics.routed("info")
	return sent
}
