package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/pion/webrtc/v4"

	appevents "github.com/rescp17/peerlink/internal/app_events"
	"github.com/rescp17/peerlink/pkg/concurrency"
	"github.com/rescp17/peerlink/pkg/signaling"
	"github.com/rescp17/peerlink/pkg/transfer"
)

// DefaultStaggerDelay spaces out the silent offers of one autoconnect sweep.
const DefaultStaggerDelay = 200 * time.Millisecond

const maxQueuedCandidates = 64

type Options struct {
	LocalID   string
	RTC       RTC
	Signaler  Signaler
	Directory Directory
	Router    *transfer.Router
	Sender    *transfer.Sender
	Contacts  []Contact
	Events    chan<- appevents.AppUIMessage

	Clock        clock.Clock
	Retry        *transfer.RetryPolicy
	StaggerDelay time.Duration
}

// Coordinator owns every peer connection of the local node and the
// negotiation that creates it. Frames received on a peer's data channel are
// handed to the Router under that peer's entry lock.
//
// Lock order: Coordinator.mu, then entry.mu, then the Registry's lock.
type Coordinator struct {
	localID   string
	rtc       RTC
	signaler  Signaler
	directory Directory
	router    *transfer.Router
	sender    *transfer.Sender
	registry  *transfer.Registry
	events    chan<- appevents.AppUIMessage
	clock     clock.Clock
	retry     *transfer.RetryPolicy
	stagger   time.Duration
	guard     *concurrency.ConcurrencyGuard

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	peers      *peerTable
	contacts   []Contact
	activeChat string
}

func New(opts Options) (*Coordinator, error) {
	if opts.LocalID == "" {
		return nil, errors.New("local user id is required")
	}
	if opts.RTC == nil {
		return nil, errors.New("rtc transport is required")
	}
	if opts.Router == nil || opts.Sender == nil {
		return nil, errors.New("router and sender are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Retry == nil {
		opts.Retry = transfer.DefaultRetryPolicy()
	}
	if opts.StaggerDelay <= 0 {
		opts.StaggerDelay = DefaultStaggerDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		localID:   opts.LocalID,
		rtc:       opts.RTC,
		signaler:  opts.Signaler,
		directory: opts.Directory,
		router:    opts.Router,
		sender:    opts.Sender,
		registry:  opts.Router.Registry(),
		events:    opts.Events,
		clock:     opts.Clock,
		retry:     opts.Retry,
		stagger:   opts.StaggerDelay,
		guard:     concurrency.NewConcurrencyGuard(),
		ctx:       ctx,
		cancel:    cancel,
		peers:     newPeerTable(),
		contacts:  append([]Contact(nil), opts.Contacts...),
	}

	// The handler runs under the entry lock that Close needs.
	c.router.Handle(transfer.TypeDisconnect, func(peerID string, _ transfer.Control) {
		slog.Info("Peer requested disconnect", "peer", peerID)
		go func() {
			if err := c.Close(peerID, false); err != nil {
				slog.Debug("Disconnect for unknown peer", "peer", peerID, "error", err)
			}
		}()
	})
	return c, nil
}

func (c *Coordinator) LocalID() string {
	return c.localID
}

// Run blocks until ctx is cancelled, then closes every connection.
func (c *Coordinator) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-c.ctx.Done():
	}
	c.shutdown()
	return nil
}

func (c *Coordinator) shutdown() {
	c.cancel()

	c.mu.Lock()
	entries := make([]*entry, 0, len(c.peers.entries))
	for _, e := range c.peers.entries {
		entries = append(entries, e)
	}
	for id := range c.peers.timers {
		c.peers.stopTimers(id)
	}
	c.peers = newPeerTable()
	c.mu.Unlock()

	for _, e := range entries {
		c.release(e)
	}
	slog.Info("Peer coordinator stopped", "closed", len(entries))
}

// SetActiveChat sets the peer CreateOffer targets when called without one.
func (c *Coordinator) SetActiveChat(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeChat = peerID
}

func (c *Coordinator) SetContacts(contacts []Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contacts = append([]Contact(nil), contacts...)
}

// IsConnectedTo reports whether peerID has a connected transport with an open data channel.
func (c *Coordinator) IsConnectedTo(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.peers.entries[peerID]
	return ok && e.state == StateConnected && e.channelOpen()
}

// Peers returns a snapshot of every entry, ordered by id.
func (c *Coordinator) Peers() []PeerStatus {
	c.mu.Lock()
	out := make([]PeerStatus, 0, len(c.peers.entries))
	for _, e := range c.peers.entries {
		out = append(out, e.status())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close tears down the connection to peerID and discards its partial
// inbound transfers. With notifyPeer set the remote is told first.
func (c *Coordinator) Close(peerID string, notifyPeer bool) error {
	c.mu.Lock()
	e, ok := c.peers.entries[peerID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", transfer.ErrPeerNotFound, peerID)
	}
	ch := e.channel
	notify := notifyPeer && e.channelOpen()
	origin := e.origin
	c.peers.drop(peerID, false)
	c.mu.Unlock()

	if notify {
		bye := &transfer.DisconnectMessage{Envelope: transfer.NewEnvelope(transfer.TypeDisconnect, c.localID, c.clock.Now())}
		if err := sendControl(ch, bye); err != nil {
			slog.Debug("Failed to notify peer of disconnect", "peer", peerID, "error", err)
		}
	}
	c.release(e)
	slog.Info("Closed peer connection", "peer", peerID)
	c.emit(PeerStateMsg{PeerID: peerID, State: StateClosed, Origin: origin})
	return nil
}

// Reconnect starts a fresh signaling negotiation with a peer whose
// connection failed, closed or dropped. It is a no-op while connected or negotiating.
func (c *Coordinator) Reconnect(ctx context.Context, peerID string) error {
	c.mu.Lock()
	if e, ok := c.peers.entries[peerID]; ok {
		if e.state == StateConnected || e.state.Negotiating() {
			c.mu.Unlock()
			return nil
		}
		if e.origin == OriginManual {
			c.mu.Unlock()
			return fmt.Errorf("manual connection to %s cannot be renegotiated over signaling", peerID)
		}
	}
	delete(c.peers.attempts, peerID)
	c.peers.stopTimers(peerID)
	c.mu.Unlock()

	_, err := c.CreateOffer(ctx, peerID, OfferOptions{})
	return err
}

// newEntry creates a connection and wires its callbacks. The caller inserts
// the entry into the table before the connection can produce events.
func (c *Coordinator) newEntry(id string, origin Origin, opts OfferOptions, state State) (*entry, error) {
	conn, err := c.rtc.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("create connection for %s: %w", id, err)
	}
	e := &entry{
		id:     id,
		conn:   conn,
		origin: origin,
		silent: opts.Silent,
		video:  opts.VideoCall,
		state:  state,
	}
	conn.OnChannel(func(dc transfer.DataChannel) { c.attachChannel(e, dc) })
	conn.OnStateChange(func(s webrtc.PeerConnectionState) { c.onStateChange(e, s) })
	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) { c.onLocalCandidate(e, cand) })
	return e, nil
}

func (c *Coordinator) attachChannel(e *entry, dc transfer.DataChannel) {
	c.mu.Lock()
	if !c.peers.current(e) {
		c.mu.Unlock()
		_ = dc.Close()
		return
	}
	e.channel = dc
	c.mu.Unlock()

	dc.OnMessage(func(f transfer.Frame) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		c.router.HandleFrame(c.ctx, e.id, f)
	})
	dc.OnClose(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		// a replaced entry already dropped its state; its id may belong to a newer connection
		if e.closed {
			return
		}
		c.router.DropPeer(e.id)
	})
	dc.OnOpen(func() {
		e.mu.Lock()
		id := e.id
		e.mu.Unlock()
		slog.Info("Data channel open", "peer", id)
	})
}

func (c *Coordinator) onLocalCandidate(e *entry, cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	if !c.peers.current(e) {
		c.mu.Unlock()
		return
	}
	id, origin := e.id, e.origin
	if origin == OriginManual {
		e.mu.Lock()
		e.localCandidates = append(e.localCandidates, cand)
		e.mu.Unlock()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.signaler == nil {
		return
	}
	msg := signaling.Message{Type: signaling.TypeICECandidate, TargetUserID: id, Candidate: &cand}
	if err := c.signaler.SendRawMessage(msg, true); err != nil {
		slog.Debug("Failed to relay ICE candidate", "peer", id, "error", err)
	}
}

func (c *Coordinator) onStateChange(e *entry, s webrtc.PeerConnectionState) {
	var next State
	switch s {
	case webrtc.PeerConnectionStateConnected:
		next = StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		next = StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		next = StateFailed
	case webrtc.PeerConnectionStateClosed:
		next = StateClosed
	default:
		return
	}

	c.mu.Lock()
	if !c.peers.current(e) {
		c.mu.Unlock()
		return
	}
	id, origin := e.id, e.origin
	e.state = next
	terminal := next == StateFailed || next == StateClosed
	switch {
	case next == StateConnected:
		delete(c.peers.attempts, id)
		c.peers.stopTimers(id)
	case terminal:
		retry := next == StateFailed && origin == OriginSignaling && c.retry.ShouldRetry(c.peers.attempts[id])
		c.peers.drop(id, retry)
		if retry {
			c.scheduleRetryLocked(id)
		}
	}
	c.mu.Unlock()

	slog.Info("Peer connection state changed", "peer", id, "state", next.String())
	if terminal {
		c.release(e)
	}
	c.emit(PeerStateMsg{PeerID: id, State: next, Origin: origin})
}

func (c *Coordinator) scheduleRetryLocked(id string) {
	attempt := c.peers.attempts[id]
	c.peers.attempts[id] = attempt + 1
	delay := c.retry.GetRetryDelay(attempt)
	slog.Info("Scheduling reconnect", "peer", id, "attempt", attempt+1, "delay", delay)
	c.peers.addTimer(id, c.clock.AfterFunc(delay, func() { c.retryConnect(id) }))
}

func (c *Coordinator) retryConnect(id string) {
	if c.ctx.Err() != nil {
		return
	}
	if _, err := c.CreateOffer(c.ctx, id, OfferOptions{Silent: true}); err != nil {
		slog.Debug("Reconnect attempt failed", "peer", id, "error", err)
	}
}

// abandon removes e if it is still registered and closes it.
func (c *Coordinator) abandon(e *entry) {
	c.mu.Lock()
	id, origin := e.id, e.origin
	removed := c.peers.current(e)
	if removed {
		c.peers.drop(id, false)
	}
	c.mu.Unlock()

	c.release(e)
	if removed {
		c.emit(PeerStateMsg{PeerID: id, State: StateClosed, Origin: origin})
	}
}

// shut stops frame routing for e and discards its partial inbound transfers.
func (c *Coordinator) shut(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	c.router.DropPeer(e.id)
}

func (c *Coordinator) release(e *entry) {
	c.shut(e)
	closeConn(e)
}

func closeConn(e *entry) {
	if err := e.conn.Close(); err != nil {
		slog.Debug("Error closing peer connection", "error", err)
	}
}

func (c *Coordinator) emit(msg appevents.AppUIMessage) {
	appevents.Emit(c.ctx.Done(), c.events, msg)
}

func (c *Coordinator) notify(level appevents.Level, peerID, message string) {
	c.emit(appevents.NotificationMsg{
		Level:   level,
		PeerID:  peerID,
		Message: message,
		Time:    c.clock.Now(),
	})
}

// polite reports whether the local side yields on an offer collision with remote.
func (c *Coordinator) polite(remote string) bool {
	return c.localID > remote
}

func (c *Coordinator) signalingOpen() bool {
	return c.signaler != nil && c.signaler.IsOpen()
}
