package node

import (
	"github.com/pion/webrtc/v4"

	"github.com/rescp17/peerlink/internal/config"
	"github.com/rescp17/peerlink/pkg/peer"
	webrtcPkg "github.com/rescp17/peerlink/pkg/webrtc"
)

// rtcFactory adapts the pion API to the coordinator's transport interface.
type rtcFactory struct {
	api *webrtcPkg.WebRTCAPI
}

var _ peer.RTC = rtcFactory{}

func newRTCFactory(cfg *config.Config) rtcFactory {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return rtcFactory{api: webrtcPkg.NewWebRTCAPI(webrtcPkg.Config{
		ICEServers:   servers,
		MulticastDNS: cfg.MulticastDNS,
	})}
}

func (f rtcFactory) NewConnection() (peer.Conn, error) {
	conn, err := f.api.NewConnection()
	if err != nil {
		// a typed nil would make a non-nil interface
		return nil, err
	}
	return conn, nil
}
