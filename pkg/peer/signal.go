package peer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/webrtc/v4"

	appevents "github.com/rescp17/peerlink/internal/app_events"
	"github.com/rescp17/peerlink/pkg/signaling"
	"github.com/rescp17/peerlink/pkg/transfer"
)

// HandleSignalingMessage processes one message from the signaling server.
// Messages must be handed in sequentially, in the order they were received.
// Relayed traffic never produces an error; problems are logged.
func (c *Coordinator) HandleSignalingMessage(ctx context.Context, msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeSuccess:
		slog.Info("Registered with signaling server", "user", c.localID)
		go func() {
			if err := c.AutoConnectToContacts(ctx); err != nil {
				slog.Warn("Autoconnect sweep failed", "error", err)
			}
		}()
	case signaling.TypeError:
		c.handleSignalingError(msg)
	case signaling.TypeOffer:
		c.handleOffer(ctx, msg)
	case signaling.TypeAnswer:
		c.handleAnswer(msg)
	case signaling.TypeICECandidate:
		c.handleCandidate(msg)
	case signaling.TypeUserNotFound:
		c.handleUserNotFound(msg)
	default:
		slog.Warn("Ignoring signaling message", "type", msg.Type, "from", msg.FromUserID)
	}
}

// isPeerOffline matches the relay's errors for a target that is not online.
func isPeerOffline(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "offline") || strings.Contains(m, "not online")
}

func (c *Coordinator) handleSignalingError(msg signaling.Message) {
	if isPeerOffline(msg.Message) {
		slog.Info("Signaling reports peer offline", "peer", msg.TargetUserID, "message", msg.Message)
		return
	}
	slog.Warn("Signaling server error", "message", msg.Message)
	c.notify(appevents.LevelError, msg.TargetUserID, fmt.Sprintf("Signaling error: %s", msg.Message))
}

func (c *Coordinator) handleOffer(ctx context.Context, msg signaling.Message) {
	from := msg.FromUserID
	if from == "" || from == c.localID {
		slog.Warn("Dropping offer with invalid sender", "from", from)
		return
	}
	if msg.SDP == nil || msg.SDP.Type != webrtc.SDPTypeOffer {
		slog.Warn("Dropping offer", "from", from, "error", transfer.ErrSDPTypeMismatch)
		return
	}

	c.mu.Lock()
	stale, ok := c.peers.entries[from]
	if ok {
		switch stale.state {
		case StateConnected:
			c.mu.Unlock()
			slog.Debug("Ignoring offer from connected peer", "peer", from)
			return
		case StateOfferReceived:
			c.mu.Unlock()
			slog.Debug("Ignoring duplicate offer", "peer", from)
			return
		case StateOfferSent:
			if !c.polite(from) {
				c.mu.Unlock()
				slog.Info("Offer collision, keeping local offer", "peer", from)
				return
			}
			slog.Info("Offer collision, yielding to remote offer", "peer", from)
		}
		// candidates queued for the remote's new offer survive the swap
		queued := c.peers.takeCandidates(from)
		c.peers.drop(from, true)
		c.peers.candidates[from] = queued
	}
	e, err := c.newEntry(from, OriginSignaling, OfferOptions{Silent: true, VideoCall: msg.IsVideoCall}, StateOfferReceived)
	if err != nil {
		c.mu.Unlock()
		slog.Error("Cannot answer offer", "peer", from, "error", err)
		return
	}
	c.peers.entries[from] = e
	c.mu.Unlock()

	if stale != nil {
		c.release(stale)
	}
	c.emit(PeerStateMsg{PeerID: from, State: StateOfferReceived, Origin: OriginSignaling})

	answer, err := e.conn.AcceptOffer(ctx, *msg.SDP)
	if err != nil {
		slog.Warn("Failed to accept offer", "peer", from, "error", err)
		c.abandon(e)
		return
	}
	reply := signaling.Message{Type: signaling.TypeAnswer, TargetUserID: from, SDP: &answer}
	if err := c.signaler.SendRawMessage(reply, true); err != nil {
		slog.Warn("Failed to send answer", "peer", from, "error", err)
		c.abandon(e)
		return
	}
	c.flushCandidates(e)
}

func (c *Coordinator) handleAnswer(msg signaling.Message) {
	from := msg.FromUserID
	if msg.SDP == nil || msg.SDP.Type != webrtc.SDPTypeAnswer {
		slog.Warn("Dropping answer", "from", from, "error", transfer.ErrSDPTypeMismatch)
		return
	}

	c.mu.Lock()
	e, ok := c.peers.entries[from]
	if !ok || e.state != StateOfferSent || e.origin != OriginSignaling {
		c.mu.Unlock()
		slog.Debug("Ignoring unexpected answer", "peer", from)
		return
	}
	c.mu.Unlock()

	if err := e.conn.AcceptAnswer(*msg.SDP); err != nil {
		slog.Warn("Failed to accept answer", "peer", from, "error", err)
		c.abandon(e)
		return
	}
	c.flushCandidates(e)
}

// handleCandidate applies a remote candidate, or queues it until the
// connection has a remote description.
func (c *Coordinator) handleCandidate(msg signaling.Message) {
	from := msg.FromUserID
	if msg.Candidate == nil {
		slog.Debug("Dropping empty ICE candidate", "from", from)
		return
	}

	c.mu.Lock()
	e, ok := c.peers.entries[from]
	if !ok || !e.conn.HasRemoteDescription() {
		if len(c.peers.candidates[from]) < maxQueuedCandidates {
			c.peers.queueCandidate(from, *msg.Candidate)
		} else {
			slog.Debug("Candidate queue full", "peer", from)
		}
		c.mu.Unlock()
		return
	}
	conn := e.conn
	c.mu.Unlock()

	if err := conn.AddICECandidate(*msg.Candidate); err != nil {
		slog.Debug("Failed to add ICE candidate", "peer", from, "error", err)
	}
}

func (c *Coordinator) flushCandidates(e *entry) {
	c.mu.Lock()
	if !c.peers.current(e) {
		c.mu.Unlock()
		return
	}
	queued := c.peers.takeCandidates(e.id)
	c.mu.Unlock()

	applyCandidates(e.conn, queued)
}

// handleUserNotFound closes the half-open connection to a peer the server
// does not know. Silent attempts stay silent.
func (c *Coordinator) handleUserNotFound(msg signaling.Message) {
	id := msg.TargetUserID
	if id == "" {
		id = msg.FromUserID
	}

	c.mu.Lock()
	e, ok := c.peers.entries[id]
	if !ok || e.state == StateConnected {
		c.mu.Unlock()
		slog.Info("Signaling server does not know peer", "peer", id)
		return
	}
	silent, origin := e.silent, e.origin
	c.peers.drop(id, false)
	c.mu.Unlock()

	c.release(e)
	slog.Info("Peer not found, closed pending connection", "peer", id, "silent", silent)
	c.emit(PeerStateMsg{PeerID: id, State: StateClosed, Origin: origin})
	if !silent {
		c.notify(appevents.LevelWarning, id, fmt.Sprintf("%s is not online", id))
	}
}
