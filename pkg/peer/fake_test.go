package peer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/peerlink/pkg/signaling"
	"github.com/rescp17/peerlink/pkg/transfer"
)

// fakeChannel is an in-memory data channel. Linked channels deliver each
// sent frame to the other side synchronously.
type fakeChannel struct {
	mu        sync.Mutex
	sent      []transfer.Frame
	closed    atomic.Bool
	onMessage func(transfer.Frame)
	onClose   func()
	remote    *fakeChannel
}

var _ transfer.DataChannel = (*fakeChannel)(nil)

func (c *fakeChannel) record(f transfer.Frame) error {
	if c.closed.Load() {
		return errors.New("DataChannel is not opened")
	}
	c.mu.Lock()
	c.sent = append(c.sent, f)
	remote := c.remote
	c.mu.Unlock()
	if remote != nil {
		remote.deliver(f)
	}
	return nil
}

func (c *fakeChannel) Send(data []byte) error {
	return c.record(transfer.Frame{Data: append([]byte(nil), data...)})
}

func (c *fakeChannel) SendText(text string) error {
	return c.record(transfer.Frame{Data: []byte(text), IsString: true})
}

func (c *fakeChannel) BufferedAmount() uint64 { return 0 }
func (c *fakeChannel) IsOpen() bool           { return !c.closed.Load() }
func (c *fakeChannel) Label() string          { return "chat" }
func (c *fakeChannel) OnOpen(func())          {}

func (c *fakeChannel) OnClose(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

func (c *fakeChannel) OnMessage(f func(transfer.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = f
}

func (c *fakeChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	f := c.onClose
	c.mu.Unlock()
	if f != nil {
		f()
	}
	return nil
}

// deliver hands f to the registered message handler, as the remote would.
func (c *fakeChannel) deliver(f transfer.Frame) {
	c.mu.Lock()
	h := c.onMessage
	c.mu.Unlock()
	if h != nil {
		h(f)
	}
}

func (c *fakeChannel) deliverText(s string) {
	c.deliver(transfer.Frame{Data: []byte(s), IsString: true})
}

func (c *fakeChannel) frames() []transfer.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transfer.Frame(nil), c.sent...)
}

func link(a, b *fakeChannel) {
	a.mu.Lock()
	a.remote = b
	a.mu.Unlock()
	b.mu.Lock()
	b.remote = a
	b.mu.Unlock()
}

type fakeConn struct {
	mu              sync.Mutex
	offered         bool
	remote          *webrtc.SessionDescription
	added           []webrtc.ICECandidateInit
	closed          bool
	channel         *fakeChannel
	localCandidates []webrtc.ICECandidateInit
	gathered        chan struct{}

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onChannel   func(transfer.DataChannel)
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	ch := &fakeChannel{}
	c.mu.Lock()
	c.offered = true
	c.channel = ch
	onChannel := c.onChannel
	c.mu.Unlock()
	if onChannel != nil {
		onChannel(ch)
	}
	c.trickle()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (c *fakeConn) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.remote = &offer
	c.mu.Unlock()
	c.trickle()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *fakeConn) AcceptAnswer(answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.offered {
		return errors.New("have-local-offer required")
	}
	c.remote = &answer
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("remote description not set")
	}
	c.added = append(c.added, candidate)
	return nil
}

func (c *fakeConn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote != nil
}

func (c *fakeConn) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCandidate = f
}

func (c *fakeConn) OnStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

func (c *fakeConn) OnChannel(f func(transfer.DataChannel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChannel = f
}

func (c *fakeConn) GatheringComplete() <-chan struct{} {
	return c.gathered
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	ch := c.channel
	c.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
	return nil
}

func (c *fakeConn) trickle() {
	c.mu.Lock()
	f := c.onCandidate
	cands := c.localCandidates
	c.mu.Unlock()
	for _, cand := range cands {
		if f != nil {
			f(cand)
		}
	}
}

func (c *fakeConn) setState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	f := c.onState
	c.mu.Unlock()
	f(s)
}

// openChannel simulates the remote opening the chat channel.
func (c *fakeConn) openChannel() *fakeChannel {
	ch := &fakeChannel{}
	c.mu.Lock()
	c.channel = ch
	f := c.onChannel
	c.mu.Unlock()
	f(ch)
	return ch
}

func (c *fakeConn) dataChannel() *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) addedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.added...)
}

type fakeRTC struct {
	mu            sync.Mutex
	conns         []*fakeConn
	candidates    []webrtc.ICECandidateInit
	holdGathering bool
	err           error
}

var _ RTC = (*fakeRTC)(nil)

func (r *fakeRTC) NewConnection() (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	conn := &fakeConn{
		localCandidates: r.candidates,
		gathered:        make(chan struct{}),
	}
	if !r.holdGathering {
		close(conn.gathered)
	}
	r.conns = append(r.conns, conn)
	return conn, nil
}

func (r *fakeRTC) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *fakeRTC) last() *fakeConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return nil
	}
	return r.conns[len(r.conns)-1]
}

type sentSignal struct {
	msg    signaling.Message
	silent bool
}

type fakeSignaler struct {
	mu   sync.Mutex
	open bool
	sent []sentSignal
	err  error
}

var _ Signaler = (*fakeSignaler)(nil)

func (s *fakeSignaler) SendRawMessage(msg signaling.Message, isSilent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentSignal{msg: msg, silent: isSilent})
	return nil
}

func (s *fakeSignaler) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSignaler) ofType(t signaling.Type) []sentSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentSignal
	for _, m := range s.sent {
		if m.msg.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeDirectory struct {
	users []string
	err   error
}

func (d *fakeDirectory) OnlineUsers(context.Context) ([]string, error) {
	return d.users, d.err
}
