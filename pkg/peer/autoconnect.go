package peer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AutoConnectToContacts offers silently to every online contact that is not
// special, not the local user and not already connected or negotiating.
// Offers are spaced StaggerDelay apart so a large roster does not flood the
// signaling server.
func (c *Coordinator) AutoConnectToContacts(ctx context.Context) error {
	if c.directory == nil {
		slog.Debug("Autoconnect skipped, no directory configured")
		return nil
	}
	online, err := c.directory.OnlineUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch online users: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	targets := c.autoConnectTargetsLocked(online)
	for i, id := range targets {
		delay := time.Duration(i) * c.stagger
		c.peers.addTimer(id, c.clock.AfterFunc(delay, func() { c.autoConnect(id) }))
	}
	slog.Info("Autoconnect sweep", "online", len(online), "targets", len(targets))
	return nil
}

func (c *Coordinator) autoConnectTargetsLocked(online []string) []string {
	isOnline := make(map[string]struct{}, len(online))
	for _, id := range online {
		isOnline[id] = struct{}{}
	}

	seen := make(map[string]struct{})
	var targets []string
	for _, contact := range c.contacts {
		id := contact.ID
		if id == "" || id == c.localID || contact.Special {
			continue
		}
		if _, ok := isOnline[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if e, ok := c.peers.entries[id]; ok && (e.state == StateConnected || e.state.Negotiating()) {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	return targets
}

func (c *Coordinator) autoConnect(id string) {
	if c.ctx.Err() != nil {
		return
	}
	if _, err := c.CreateOffer(c.ctx, id, OfferOptions{Silent: true}); err != nil {
		slog.Debug("Silent autoconnect failed", "peer", id, "error", err)
	}
}
