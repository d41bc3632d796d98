package webrtc

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/rescp17/peerlink/pkg/transfer"
)

const (
	MTU uint = 1400

	// ChannelLabel names the single ordered data channel used per peer.
	ChannelLabel = "chat"
)

// Config holds the configuration for creating new connections.
type Config struct {
	ICEServers   []webrtc.ICEServer
	MulticastDNS bool
}

// DefaultConfig uses a public STUN server and mDNS host candidates.
func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		MulticastDNS: true,
	}
}

type WebRTCAPI struct {
	api    *webrtc.API
	config Config
}

func NewWebRTCAPI(config Config) *WebRTCAPI {
	settings := webrtc.SettingEngine{}
	if config.MulticastDNS {
		settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		settings.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
	settings.SetReceiveMTU(MTU)

	// Using NewAPI is crucial for managing multiple PeerConnections in one application.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))
	return &WebRTCAPI{
		api:    api,
		config: config,
	}
}

// NewConnection creates an idle peer connection.
func (a *WebRTCAPI) NewConnection() (*Connection, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: a.config.ICEServers,
	})
	if err != nil {
		log.Printf("[NewConnection] %v", err)
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &Connection{peerConnection: pc}, nil
}

// Connection wraps a single WebRTC peer connection.
type Connection struct {
	peerConnection *webrtc.PeerConnection

	mu        sync.Mutex
	onChannel func(transfer.DataChannel)
}

// CreateOffer opens the chat data channel and returns the local offer.
func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	ordered := true
	dc, err := c.peerConnection.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create data channel: %w", err)
	}
	c.deliver(dc)

	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := c.peerConnection.CreateOffer(nil)
	if err != nil {
		err = fmt.Errorf("fail to create offer: %w", err)
		log.Printf("[CreateOffer] %v", err)
		return webrtc.SessionDescription{}, err
	}
	if err := c.peerConnection.SetLocalDescription(offer); err != nil {
		err = fmt.Errorf("fail to set local description: %w", err)
		log.Printf("[CreateOffer] %v", err)
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// AcceptOffer applies a remote offer and returns the local answer.
func (c *Connection) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.peerConnection.SetRemoteDescription(offer); err != nil {
		err = fmt.Errorf("failed to set remote description: %w", err)
		log.Printf("[AcceptOffer] %v", err)
		return webrtc.SessionDescription{}, err
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := c.peerConnection.CreateAnswer(nil)
	if err != nil {
		err = fmt.Errorf("failed to create answer: %w", err)
		log.Printf("[AcceptOffer] %v", err)
		return webrtc.SessionDescription{}, err
	}
	if err := c.peerConnection.SetLocalDescription(answer); err != nil {
		err = fmt.Errorf("failed to set local description for answer: %w", err)
		log.Printf("[AcceptOffer] %v", err)
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// AcceptAnswer applies the remote answer to a connection that sent an offer.
func (c *Connection) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := c.peerConnection.SetRemoteDescription(answer); err != nil {
		err = fmt.Errorf("failed to set remote answer: %w", err)
		log.Printf("[AcceptAnswer] %v", err)
		return err
	}
	return nil
}

// AddICECandidate is called by both peers to add a candidate received from the other peer.
func (c *Connection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := c.peerConnection.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

func (c *Connection) HasRemoteDescription() bool {
	return c.peerConnection.RemoteDescription() != nil
}

// OnICECandidate reports local candidates. The end-of-gathering nil is swallowed.
func (c *Connection) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			f(candidate.ToJSON())
		}
	})
}

func (c *Connection) OnStateChange(f func(webrtc.PeerConnectionState)) {
	c.peerConnection.OnConnectionStateChange(f)
}

// OnChannel reports the chat channel, whether created locally or by the remote.
func (c *Connection) OnChannel(f func(transfer.DataChannel)) {
	c.mu.Lock()
	c.onChannel = f
	c.mu.Unlock()

	c.peerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			log.Printf("[OnChannel] ignoring data channel %q", dc.Label())
			return
		}
		c.deliver(dc)
	})
}

func (c *Connection) deliver(dc *webrtc.DataChannel) {
	c.mu.Lock()
	f := c.onChannel
	c.mu.Unlock()
	if f != nil {
		f(&DataChannel{dc: dc})
	}
}

// GatheringComplete is closed once all local candidates are known.
func (c *Connection) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(c.peerConnection)
}

// Close gracefully shuts down the WebRTC connection.
func (c *Connection) Close() error {
	if c.peerConnection != nil {
		log.Printf("Closing webrtc connection")
		return c.peerConnection.Close()
	}
	return nil
}

// DataChannel adapts a pion data channel to transfer.DataChannel.
type DataChannel struct {
	dc *webrtc.DataChannel
}

var _ transfer.DataChannel = (*DataChannel)(nil)

func (d *DataChannel) Send(data []byte) error     { return d.dc.Send(data) }
func (d *DataChannel) SendText(text string) error { return d.dc.SendText(text) }
func (d *DataChannel) BufferedAmount() uint64     { return d.dc.BufferedAmount() }
func (d *DataChannel) Label() string              { return d.dc.Label() }
func (d *DataChannel) OnOpen(f func())            { d.dc.OnOpen(f) }
func (d *DataChannel) OnClose(f func())           { d.dc.OnClose(f) }
func (d *DataChannel) Close() error               { return d.dc.Close() }

func (d *DataChannel) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (d *DataChannel) OnMessage(f func(transfer.Frame)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(transfer.Frame{Data: msg.Data, IsString: msg.IsString})
	})
}
