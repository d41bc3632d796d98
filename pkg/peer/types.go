package peer

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/rescp17/peerlink/pkg/signaling"
	"github.com/rescp17/peerlink/pkg/transfer"
)

// ManualPlaceholderID keys a manual negotiation until the remote user id is known.
const ManualPlaceholderID = "manual-peer"

var (
	ErrNoTarget         = errors.New("no target peer and no active chat")
	ErrAlreadyConnected = errors.New("already connected to peer")
)

// State is the lifecycle state of one peer connection.
type State int

const (
	StateIdle State = iota
	StateOfferSent
	StateOfferReceived
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Negotiating reports whether an offer/answer exchange is under way.
func (s State) Negotiating() bool {
	return s == StateOfferSent || s == StateOfferReceived
}

// Origin records how a connection was negotiated.
type Origin int

const (
	OriginSignaling Origin = iota
	OriginManual
)

func (o Origin) String() string {
	if o == OriginManual {
		return "manual"
	}
	return "signaling"
}

// PeerStatus is a snapshot of one entry, as returned by Coordinator.Peers.
type PeerStatus struct {
	ID     string
	State  State
	Origin Origin
	Silent bool
	Video  bool
}

// Contact is a local address book entry. Special contacts (assistants,
// system accounts) are never dialled automatically.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Special bool   `json:"special,omitempty"`
}

// ManualPayload is the blob users copy between devices when no signaling server is reachable.
type ManualPayload struct {
	SDP         webrtc.SessionDescription `json:"sdp"`
	Candidates  []webrtc.ICECandidateInit `json:"candidates"`
	UserID      string                    `json:"userId"`
	IsVideoCall bool                      `json:"isVideoCall"`
}

// OfferOptions tunes CreateOffer.
type OfferOptions struct {
	// Silent attempts never produce user notifications.
	Silent    bool
	Manual    bool
	VideoCall bool
}

// Conn is one RTC peer connection.
type Conn interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	HasRemoteDescription() bool
	OnICECandidate(f func(webrtc.ICECandidateInit))
	OnStateChange(f func(webrtc.PeerConnectionState))
	OnChannel(f func(transfer.DataChannel))
	GatheringComplete() <-chan struct{}
	Close() error
}

// RTC creates peer connections.
type RTC interface {
	NewConnection() (Conn, error)
}

// Signaler is the outbound half of the signaling transport.
type Signaler interface {
	SendRawMessage(msg signaling.Message, isSilent bool) error
	IsOpen() bool
}

// Directory reports which users are online.
type Directory interface {
	OnlineUsers(ctx context.Context) ([]string, error)
}
