package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeFrame classifies a data channel message once, at the channel boundary.
func DecodeFrame(f Frame) (Inbound, error) {
	if !f.IsString {
		return &BinaryFrame{Data: f.Data}, nil
	}
	c, err := DecodeControl(f.Data)
	if err != nil {
		return nil, err
	}
	return &ControlFrame{Control: c}, nil
}

// DecodeControl parses a JSON control frame into its concrete type.
func DecodeControl(data []byte) (Control, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	var c Control
	switch head.Type {
	case TypeChunkMeta:
		c = &ChunkMeta{}
	case TypeText:
		c = &TextMessage{}
	case TypeFile:
		c = &FileMessage{}
	case TypeSticker:
		c = &StickerMessage{}
	case TypeSystem:
		c = &SystemMessage{}
	case TypeRetract:
		c = &RetractMessage{}
	case TypeGroupMessage:
		c = &GroupMessage{}
	case TypeGroupInvite:
		c = &GroupInvite{}
	case TypeCallRequest, TypeCallAccept, TypeCallReject, TypeCallEnd,
		TypeCallOffer, TypeCallAnswer, TypeCallCandidate:
		c = &CallSignal{}
	case TypeDisconnect:
		c = &DisconnectMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.Type)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, head.Type, err)
	}
	if err := validateControl(c); err != nil {
		return nil, err
	}
	return c, nil
}

func validateControl(c Control) error {
	switch m := c.(type) {
	case *ChunkMeta:
		if m.ChunkID == "" {
			return fmt.Errorf("%w: chunk-meta without chunkId", ErrMalformedFrame)
		}
		if m.TotalChunks < 0 || m.FileSize < 0 {
			return fmt.Errorf("%w: chunk-meta with negative size", ErrMalformedFrame)
		}
		// every chunk carries at least one byte
		if int64(m.TotalChunks) > m.FileSize || (m.FileSize > 0 && m.TotalChunks == 0) {
			return fmt.Errorf("%w: %d chunks for %d bytes", ErrMalformedFrame, m.TotalChunks, m.FileSize)
		}
		if len(m.ChunkID) > maxTaggedIDLen && m.Framing == FramingTagged {
			return fmt.Errorf("%w: chunkId too long for tagged framing", ErrMalformedFrame)
		}
	case *RetractMessage:
		if m.TargetID == "" {
			return fmt.Errorf("%w: retract without targetId", ErrMalformedFrame)
		}
	}
	return nil
}

// EncodeControl serialises a control frame for SendText.
func EncodeControl(c Control) ([]byte, error) {
	if c == nil {
		return nil, errors.New("nil control message")
	}
	if c.Header().Type == "" {
		return nil, errors.New("control message without type")
	}
	return json.Marshal(c)
}
