package peer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rescp17/peerlink/pkg/content"
	"github.com/rescp17/peerlink/pkg/transfer"
)

// SendText sends a chat line and returns its message id.
func (c *Coordinator) SendText(peerID, text string) (string, error) {
	msg := &transfer.TextMessage{
		Envelope: transfer.NewEnvelope(transfer.TypeText, c.localID, c.clock.Now()),
		ID:       uuid.NewString(),
		Content:  text,
	}
	if err := c.SendControl(peerID, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// SendControl encodes ctrl and writes it to the data channel of peerID.
func (c *Coordinator) SendControl(peerID string, ctrl transfer.Control) error {
	ch, err := c.channelFor(peerID)
	if err != nil {
		return err
	}
	return sendControl(ch, ctrl)
}

// SendFile starts streaming data to peerID and returns the transfer id at
// once. The transfer runs until it completes, the channel closes or ctx is
// cancelled; its outcome is only logged.
func (c *Coordinator) SendFile(ctx context.Context, peerID, name, mimeType string, data []byte) (string, error) {
	ch, err := c.channelFor(peerID)
	if err != nil {
		return "", err
	}

	transferID := content.Hash(data)
	now := c.clock.Now()
	announce := &transfer.FileMessage{
		Envelope: transfer.NewEnvelope(transfer.TypeFile, c.localID, now),
		ID:       uuid.NewString(),
		ChunkID:  transferID,
		FileName: name,
		FileType: mimeType,
		FileSize: int64(len(data)),
	}
	meta := transfer.Metadata{
		TransferID:        transferID,
		FileName:          name,
		MimeType:          mimeType,
		OriginalMessageID: announce.ID,
		Timestamp:         now,
		SenderID:          c.localID,
	}

	go func() {
		if err := c.sender.SendChunked(ctx, ch, peerID, data, meta, announce); err != nil {
			slog.Info("File transfer did not complete",
				"peer", peerID,
				"transfer", transferID,
				"category", transfer.Categorize(err).String(),
				"error", err)
		}
	}()
	return transferID, nil
}

func (c *Coordinator) channelFor(peerID string) (transfer.DataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.peers.entries[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transfer.ErrPeerNotFound, peerID)
	}
	if !e.channelOpen() {
		return nil, fmt.Errorf("%w: no open data channel to %s", transfer.ErrTransportClosed, peerID)
	}
	return e.channel, nil
}

func sendControl(ch transfer.Channel, ctrl transfer.Control) error {
	data, err := transfer.EncodeControl(ctrl)
	if err != nil {
		return err
	}
	if err := ch.SendText(string(data)); err != nil {
		return fmt.Errorf("send %s: %w", ctrl.Header().Type, err)
	}
	return nil
}
