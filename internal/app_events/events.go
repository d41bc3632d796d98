package appevents

import "time"

// AppEvent is a marker interface for commands sent from the chat layer to the node.
// It uses an unexported method so only types embedding Event satisfy it.
type AppEvent interface {
	isAppEvent()
}

// Event can be embedded in other event types to satisfy the AppEvent interface.
type Event struct{}

func (Event) isAppEvent() {}

// AppUIMessage is a marker interface for messages the node sends to the chat layer.
type AppUIMessage interface {
	isUIMessage()
}

// UIMessage is a base struct that can be embedded in other types to implement AppUIMessage.
type UIMessage struct{}

func (UIMessage) isUIMessage() {}

// Level is the severity of a user-visible notification.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// NotificationMsg is shown to the user. Background failures never produce one.
type NotificationMsg struct {
	UIMessage
	Level   Level
	PeerID  string
	Message string
	Time    time.Time
}

// AppErrorMsg carries an error that stopped a node component.
type AppErrorMsg struct {
	UIMessage
	Err error
}

// ConnectPeerEvent asks the node to open a connection to a peer.
type ConnectPeerEvent struct {
	Event
	PeerID string
	Silent bool
}

// SendTextEvent asks the node to send a chat line to a peer.
type SendTextEvent struct {
	Event
	PeerID string
	Text   string
}

// SendFileEvent asks the node to send a file from disk to a peer.
type SendFileEvent struct {
	Event
	PeerID string
	Path   string
}

// ClosePeerEvent asks the node to tear down a peer connection.
type ClosePeerEvent struct {
	Event
	PeerID string
	Notify bool
}

// Emit delivers msg unless ctx is done first. A nil channel drops msg.
func Emit(done <-chan struct{}, ch chan<- AppUIMessage, msg AppUIMessage) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- msg:
		return true
	case <-done:
		return false
	}
}
