package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/andres-erbsen/clock"

	"github.com/rescp17/peerlink/internal/util"
)

// Channel is the part of a data channel the sender needs.
type Channel interface {
	Send(data []byte) error
	SendText(text string) error
	BufferedAmount() uint64
	IsOpen() bool
}

// DataChannel is a full data channel as handed out by the RTC transport.
type DataChannel interface {
	Channel
	Label() string
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(Frame))
	Close() error
}

// Sender streams blobs over a data channel as chunk-meta plus binary frames.
type Sender struct {
	registry *Registry
	config   *TransferConfig
	clock    clock.Clock
	localID  string
}

func NewSender(registry *Registry, config *TransferConfig, clk clock.Clock, localID string) *Sender {
	if config == nil {
		config = DefaultTransferConfig()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Sender{
		registry: registry,
		config:   config,
		clock:    clk,
		localID:  localID,
	}
}

// SendChunked sends blob to peerID. announce frames are sent right after the
// chunk-meta frame so the receiver can attach them to the pending transfer.
// A channel that closes mid-transfer yields ErrTransportClosed after the
// outbound state has been removed.
func (s *Sender) SendChunked(ctx context.Context, ch Channel, peerID string, blob []byte, meta Metadata, announce ...Control) error {
	if meta.TransferID == "" {
		return errors.New("transfer id is required")
	}
	if s.config.Framing == FramingTagged && len(meta.TransferID) > maxTaggedIDLen {
		return fmt.Errorf("transfer id longer than %d bytes", maxTaggedIDLen)
	}

	if int64(len(blob)) > s.config.MaxFileSize {
		return fmt.Errorf("blob of %d bytes exceeds max_file_size %d", len(blob), s.config.MaxFileSize)
	}

	chunker, err := NewChunker(blob, s.config.ChunkSize)
	if err != nil {
		return err
	}
	meta.TotalChunks = chunker.TotalChunks()
	meta.TotalSize = int64(len(blob))

	if !ch.IsOpen() {
		slog.Info("Transfer not started, channel closed", "peer", peerID, "transfer", meta.TransferID)
		return ErrTransportClosed
	}
	if err := s.registry.BeginOutbound(peerID, meta.TransferID, meta.TotalChunks, meta.TotalSize); err != nil {
		return err
	}
	defer s.registry.EndOutbound(peerID, meta.TransferID)

	if err := s.sendMeta(ch, meta, announce); err != nil {
		return s.abort(peerID, meta.TransferID, ch, err)
	}

	for {
		chunk, err := chunker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s.abort(peerID, meta.TransferID, ch, err)
		}

		if err := s.waitForDrain(ctx, ch); err != nil {
			return s.abort(peerID, meta.TransferID, ch, err)
		}

		frame := chunk.Data
		if s.config.Framing == FramingTagged {
			frame = EncodeTaggedChunk(meta.TransferID, chunk.Index, chunk.Data)
		}
		if err := ch.Send(frame); err != nil {
			return s.abort(peerID, meta.TransferID, ch, fmt.Errorf("send chunk %d: %w", chunk.Index, err))
		}
		s.registry.AdvanceOutbound(peerID, meta.TransferID, len(chunk.Data))

		if s.config.YieldEvery > 0 && (chunk.Index+1)%s.config.YieldEvery == 0 {
			runtime.Gosched()
		}
	}

	slog.Info("Chunked transfer sent",
		"peer", peerID,
		"transfer", meta.TransferID,
		"chunks", meta.TotalChunks,
		"size", util.FormatSize(meta.TotalSize))
	return nil
}

func (s *Sender) sendMeta(ch Channel, meta Metadata, announce []Control) error {
	head := &ChunkMeta{
		Envelope:    NewEnvelope(TypeChunkMeta, s.localID, s.clock.Now()),
		ChunkID:     meta.TransferID,
		TotalChunks: meta.TotalChunks,
		FileName:    meta.FileName,
		FileType:    meta.MimeType,
		FileSize:    meta.TotalSize,
	}
	if s.config.Framing == FramingTagged {
		head.Framing = FramingTagged
	}

	frames := append([]Control{head}, announce...)
	for _, c := range frames {
		data, err := EncodeControl(c)
		if err != nil {
			return err
		}
		if err := ch.SendText(string(data)); err != nil {
			return fmt.Errorf("send %s: %w", c.Header().Type, err)
		}
	}
	return nil
}

// waitForDrain blocks while the channel buffers more than the high water mark.
func (s *Sender) waitForDrain(ctx context.Context, ch Channel) error {
	for ch.BufferedAmount() > s.config.HighWaterMark {
		if !ch.IsOpen() {
			return ErrTransportClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.config.PollInterval):
		}
	}
	if !ch.IsOpen() {
		return ErrTransportClosed
	}
	return nil
}

func (s *Sender) abort(peerID, transferID string, ch Channel, err error) error {
	if !ch.IsOpen() && !errors.Is(err, ErrTransportClosed) {
		err = fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	sent := 0
	if st, ok := s.registry.Outbound(peerID, transferID); ok {
		sent = st.SentCount
	}
	slog.Info("Chunked transfer aborted", "peer", peerID, "transfer", transferID, "sent", sent, "error", err)
	return err
}
