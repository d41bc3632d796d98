package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	appevents "github.com/rescp17/peerlink/internal/app_events"
	"github.com/rescp17/peerlink/pkg/signaling"
	"github.com/rescp17/peerlink/pkg/transfer"
)

// CreateOffer starts a negotiation. In signaling mode it targets target, or
// the active chat when target is empty, and relays the offer and trickled
// candidates through the signaling server; the returned string is empty.
// In manual mode the offer is keyed by ManualPlaceholderID and the returned
// string is the ManualPayload JSON the user hands to the remote side.
func (c *Coordinator) CreateOffer(ctx context.Context, target string, opts OfferOptions) (string, error) {
	if opts.Manual {
		var payload string
		err := c.guard.Execute(func() error {
			var err error
			payload, err = c.createManualOffer(ctx, opts)
			return err
		})
		if err != nil {
			c.reportManual(err)
			return "", err
		}
		return payload, nil
	}

	err := c.createSignalingOffer(ctx, target, opts)
	if err != nil && !opts.Silent {
		c.notify(appevents.LevelError, target, fmt.Sprintf("Could not connect: %v", err))
	}
	return "", err
}

func (c *Coordinator) createSignalingOffer(ctx context.Context, target string, opts OfferOptions) error {
	id := target
	if id == "" {
		c.mu.Lock()
		id = c.activeChat
		c.mu.Unlock()
	}
	switch {
	case id == "":
		return ErrNoTarget
	case id == c.localID:
		return transfer.ErrSelfConnection
	case !c.signalingOpen():
		return transfer.ErrSignalingUnavailable
	}

	c.mu.Lock()
	stale, ok := c.peers.entries[id]
	if ok {
		if stale.state == StateConnected || stale.state.Negotiating() {
			c.mu.Unlock()
			slog.Debug("Offer skipped, peer already connected or negotiating", "peer", id, "state", stale.state.String())
			return nil
		}
		c.peers.drop(id, true)
	}
	e, err := c.newEntry(id, OriginSignaling, opts, StateOfferSent)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.peers.entries[id] = e
	c.mu.Unlock()

	if stale != nil {
		c.release(stale)
	}
	c.emit(PeerStateMsg{PeerID: id, State: StateOfferSent, Origin: OriginSignaling})

	offer, err := e.conn.CreateOffer(ctx)
	if err != nil {
		c.abandon(e)
		return fmt.Errorf("create offer for %s: %w", id, err)
	}
	msg := signaling.Message{
		Type:         signaling.TypeOffer,
		TargetUserID: id,
		SDP:          &offer,
		IsVideoCall:  opts.VideoCall,
	}
	if err := c.signaler.SendRawMessage(msg, opts.Silent); err != nil {
		c.abandon(e)
		return fmt.Errorf("send offer to %s: %w", id, err)
	}
	slog.Info("Sent offer", "peer", id, "silent", opts.Silent)
	return nil
}

func (c *Coordinator) createManualOffer(ctx context.Context, opts OfferOptions) (string, error) {
	opts.Manual = true
	e, err := c.replacePlaceholder(opts, StateOfferSent)
	if err != nil {
		return "", err
	}

	gathered := e.conn.GatheringComplete()
	offer, err := e.conn.CreateOffer(ctx)
	if err != nil {
		c.abandon(e)
		return "", fmt.Errorf("create manual offer: %w", err)
	}
	if err := waitGathering(ctx, gathered); err != nil {
		c.abandon(e)
		return "", err
	}
	return c.encodePayload(e, offer)
}

// HandleManualOffer applies a pasted offer payload and returns the answer
// payload for the user to hand back.
func (c *Coordinator) HandleManualOffer(ctx context.Context, raw string) (string, error) {
	var answer string
	err := c.guard.Execute(func() error {
		var err error
		answer, err = c.acceptManualOffer(ctx, raw)
		return err
	})
	if err != nil {
		c.reportManual(err)
		return "", err
	}
	return answer, nil
}

func (c *Coordinator) acceptManualOffer(ctx context.Context, raw string) (string, error) {
	p, err := c.parsePayload(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if cur, ok := c.peers.entries[p.UserID]; ok && cur.state == StateConnected {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyConnected, p.UserID)
	}
	c.mu.Unlock()

	e, err := c.replacePlaceholder(OfferOptions{Manual: true, VideoCall: p.IsVideoCall}, StateOfferReceived)
	if err != nil {
		return "", err
	}

	gathered := e.conn.GatheringComplete()
	answer, err := e.conn.AcceptOffer(ctx, p.SDP)
	if err != nil {
		c.abandon(e)
		return "", fmt.Errorf("apply manual offer: %w", err)
	}
	applyCandidates(e.conn, p.Candidates)
	if err := waitGathering(ctx, gathered); err != nil {
		c.abandon(e)
		return "", err
	}
	if err := c.promote(ManualPlaceholderID, p.UserID); err != nil {
		c.abandon(e)
		return "", err
	}
	return c.encodePayload(e, answer)
}

// HandleManualAnswer completes a manual offer created earlier with CreateOffer.
func (c *Coordinator) HandleManualAnswer(ctx context.Context, raw string) error {
	err := c.guard.Execute(func() error {
		return c.acceptManualAnswer(ctx, raw)
	})
	if err != nil {
		c.reportManual(err)
	}
	return err
}

func (c *Coordinator) acceptManualAnswer(ctx context.Context, raw string) error {
	p, err := c.parsePayload(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	e, ok := c.peers.entries[ManualPlaceholderID]
	if !ok || e.state != StateOfferSent {
		c.mu.Unlock()
		return fmt.Errorf("%w: no manual offer awaiting an answer", transfer.ErrPeerNotFound)
	}
	c.mu.Unlock()

	if err := e.conn.AcceptAnswer(p.SDP); err != nil {
		return fmt.Errorf("apply manual answer: %w", err)
	}
	applyCandidates(e.conn, p.Candidates)
	return c.promote(ManualPlaceholderID, p.UserID)
}

// replacePlaceholder discards any earlier manual attempt and registers a
// fresh entry under ManualPlaceholderID.
func (c *Coordinator) replacePlaceholder(opts OfferOptions, state State) (*entry, error) {
	c.mu.Lock()
	stale := c.peers.entries[ManualPlaceholderID]
	if stale != nil {
		c.peers.drop(ManualPlaceholderID, false)
	}
	e, err := c.newEntry(ManualPlaceholderID, OriginManual, opts, state)
	if err == nil {
		c.peers.entries[ManualPlaceholderID] = e
	}
	c.mu.Unlock()

	if stale != nil {
		slog.Info("Discarding unfinished manual negotiation")
		c.release(stale)
	}
	if err != nil {
		return nil, err
	}
	c.emit(PeerStateMsg{PeerID: ManualPlaceholderID, State: state, Origin: OriginManual})
	return e, nil
}

// promote re-keys the entry under from to the real peer id to. The entry,
// its queued candidates, reconnect attempts, timers and in-flight transfers
// move in one step while both the table lock and the entry lock are held,
// so no frame is routed while the state is split across both ids.
func (c *Coordinator) promote(from, to string) error {
	c.mu.Lock()
	e, ok := c.peers.entries[from]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", transfer.ErrPeerNotFound, from)
	}

	stale, clash := c.peers.entries[to]
	if clash {
		if stale.state == StateConnected {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyConnected, to)
		}
		c.peers.drop(to, false)
		c.shut(stale)
	}

	e.mu.Lock()
	if err := c.registry.RenamePeer(from, to); err != nil {
		e.mu.Unlock()
		c.mu.Unlock()
		if clash {
			closeConn(stale)
		}
		return fmt.Errorf("promote %s to %s: %w", from, to, err)
	}
	c.peers.rename(from, to)
	e.id = to
	e.mu.Unlock()

	state, origin := e.state, e.origin
	c.mu.Unlock()

	if clash {
		closeConn(stale)
	}
	slog.Info("Promoted manual connection", "from", from, "to", to)
	c.emit(PeerRenamedMsg{From: from, To: to})
	c.emit(PeerStateMsg{PeerID: to, State: state, Origin: origin})
	return nil
}

func (c *Coordinator) parsePayload(raw string, want webrtc.SDPType) (ManualPayload, error) {
	var p ManualPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("%w: %v", transfer.ErrMalformedPayload, err)
	}
	if p.SDP.SDP == "" || p.UserID == "" {
		return p, fmt.Errorf("%w: sdp and userId are required", transfer.ErrMalformedPayload)
	}
	if p.UserID == ManualPlaceholderID {
		return p, fmt.Errorf("%w: reserved userId %q", transfer.ErrMalformedPayload, p.UserID)
	}
	if p.SDP.Type != want {
		return p, fmt.Errorf("%w: expected %s, got %s", transfer.ErrSDPTypeMismatch, want, p.SDP.Type)
	}
	if p.UserID == c.localID {
		return p, transfer.ErrSelfConnection
	}
	return p, nil
}

func (c *Coordinator) encodePayload(e *entry, sdp webrtc.SessionDescription) (string, error) {
	e.mu.Lock()
	candidates := append([]webrtc.ICECandidateInit{}, e.localCandidates...)
	e.mu.Unlock()

	data, err := json.Marshal(ManualPayload{
		SDP:         sdp,
		Candidates:  candidates,
		UserID:      c.localID,
		IsVideoCall: e.video,
	})
	if err != nil {
		return "", fmt.Errorf("encode manual payload: %w", err)
	}
	return string(data), nil
}

// reportManual turns a failed manual step into a notification. Manual
// negotiation is always user driven, so every failure is shown.
func (c *Coordinator) reportManual(err error) {
	slog.Warn("Manual negotiation failed", "error", err, "category", transfer.Categorize(err).String())
	switch {
	case errors.Is(err, transfer.ErrSelfConnection):
		c.notify(appevents.LevelWarning, "", "That connection code was created on this device")
	case errors.Is(err, ErrAlreadyConnected):
		c.notify(appevents.LevelInfo, "", err.Error())
	default:
		c.notify(appevents.LevelError, "", fmt.Sprintf("Manual connection failed: %v", err))
	}
}

func applyCandidates(conn Conn, candidates []webrtc.ICECandidateInit) {
	for _, cand := range candidates {
		if err := conn.AddICECandidate(cand); err != nil {
			slog.Debug("Failed to add ICE candidate", "error", err)
		}
	}
}

func waitGathering(ctx context.Context, gathered <-chan struct{}) error {
	select {
	case <-gathered:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ICE gathering: %w", ctx.Err())
	}
}
