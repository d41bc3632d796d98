package transfer

import (
	"time"

	appevents "github.com/rescp17/peerlink/internal/app_events"
)

// TransferCompleteMsg is emitted once the bytes of a transfer are cached.
type TransferCompleteMsg struct {
	appevents.UIMessage
	PeerID            string
	TransferID        string
	FileName          string
	MimeType          string
	Size              int64
	OriginalMessageID string
	SenderID          string
	Timestamp         time.Time
}

// TransferFailedMsg is emitted when a completed transfer could not be accepted.
type TransferFailedMsg struct {
	appevents.UIMessage
	PeerID     string
	TransferID string
	Err        error
}

// ControlMsg forwards a decoded control frame to the chat layer.
type ControlMsg struct {
	appevents.UIMessage
	PeerID  string
	Control Control
}
