package transfer

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeChunkMeta     MessageType = "chunk-meta"
	TypeText          MessageType = "text"
	TypeFile          MessageType = "file"
	TypeSticker       MessageType = "sticker"
	TypeSystem        MessageType = "system"
	TypeRetract       MessageType = "retract"
	TypeGroupMessage  MessageType = "group-message"
	TypeGroupInvite   MessageType = "group-invite"
	TypeCallRequest   MessageType = "call-request"
	TypeCallAccept    MessageType = "call-accept"
	TypeCallReject    MessageType = "call-reject"
	TypeCallEnd       MessageType = "call-end"
	TypeCallOffer     MessageType = "call-offer"
	TypeCallAnswer    MessageType = "call-answer"
	TypeCallCandidate MessageType = "call-candidate"
	TypeDisconnect    MessageType = "disconnect"
)

// Envelope is shared by every control frame.
type Envelope struct {
	Type      MessageType `json:"type"`
	Sender    string      `json:"sender,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEnvelope(t MessageType, sender string, now time.Time) Envelope {
	return Envelope{Type: t, Sender: sender, Timestamp: now.UTC()}
}

func (e Envelope) Header() Envelope { return e }

func (Envelope) control() {}

// Control is a decoded control frame. Concrete types are the structs below.
type Control interface {
	Header() Envelope
	control()
}

// TransferRef is a chat message whose body is carried by a chunked transfer.
type TransferRef interface {
	Control
	TransferID() string
	MessageID() string
}

// ChunkMeta announces a chunked transfer. It precedes the binary frames.
type ChunkMeta struct {
	Envelope
	ChunkID     string  `json:"chunkId"`
	TotalChunks int     `json:"totalChunks"`
	FileName    string  `json:"fileName"`
	FileType    string  `json:"fileType"`
	FileSize    int64   `json:"fileSize"`
	Framing     Framing `json:"framing,omitempty"`
}

type TextMessage struct {
	Envelope
	ID      string `json:"id"`
	Content string `json:"content"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type FileMessage struct {
	Envelope
	ID       string `json:"id"`
	ChunkID  string `json:"chunkId"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	Caption  string `json:"caption,omitempty"`
}

func (m FileMessage) TransferID() string { return m.ChunkID }
func (m FileMessage) MessageID() string  { return m.ID }

type StickerMessage struct {
	Envelope
	ID       string `json:"id"`
	ChunkID  string `json:"chunkId"`
	Name     string `json:"name,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

func (m StickerMessage) TransferID() string { return m.ChunkID }
func (m StickerMessage) MessageID() string  { return m.ID }

type SystemMessage struct {
	Envelope
	Content string `json:"content"`
}

// RetractMessage withdraws a previously sent message.
type RetractMessage struct {
	Envelope
	TargetID string `json:"targetId"`
}

type GroupMessage struct {
	Envelope
	GroupID string `json:"groupId"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

type GroupInvite struct {
	Envelope
	GroupID string   `json:"groupId"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// CallSignal carries call control and media negotiation. The payload is
// opaque here; media pipelines live elsewhere.
type CallSignal struct {
	Envelope
	CallID  string          `json:"callId"`
	Video   bool            `json:"video,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type DisconnectMessage struct {
	Envelope
	Reason string `json:"reason,omitempty"`
}

// Frame is one data channel message as delivered by the transport.
type Frame struct {
	Data     []byte
	IsString bool
}

// Inbound is a classified frame: either *BinaryFrame or *ControlFrame.
type Inbound interface {
	inbound()
}

type BinaryFrame struct {
	Data []byte
}

func (*BinaryFrame) inbound() {}

type ControlFrame struct {
	Control Control
}

func (*ControlFrame) inbound() {}
