package peer

import appevents "github.com/rescp17/peerlink/internal/app_events"

// PeerStateMsg is emitted whenever an entry changes state.
type PeerStateMsg struct {
	appevents.UIMessage
	PeerID string
	State  State
	Origin Origin
}

// PeerRenamedMsg is emitted when a manual placeholder is promoted to the real peer id.
type PeerRenamedMsg struct {
	appevents.UIMessage
	From string
	To   string
}
