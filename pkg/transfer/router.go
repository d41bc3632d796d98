package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	appevents "github.com/rescp17/peerlink/internal/app_events"
	"github.com/rescp17/peerlink/pkg/cache"
)

// ContentCache receives every completed blob, keyed by transferId.
type ContentCache interface {
	Put(ctx context.Context, entry cache.Entry) error
}

// ControlHandler consumes a control frame instead of forwarding it to the chat layer.
type ControlHandler func(peerID string, c Control)

// Router reassembles chunked transfers and dispatches control frames.
// Frames of one peer must be handed in sequentially.
type Router struct {
	registry *Registry
	cache    ContentCache
	config   *TransferConfig
	events   chan<- appevents.AppUIMessage

	mu       sync.RWMutex
	handlers map[MessageType]ControlHandler
}

func NewRouter(registry *Registry, contentCache ContentCache, config *TransferConfig, events chan<- appevents.AppUIMessage) *Router {
	if config == nil {
		config = DefaultTransferConfig()
	}
	return &Router{
		registry: registry,
		cache:    contentCache,
		config:   config,
		events:   events,
		handlers: make(map[MessageType]ControlHandler),
	}
}

func (r *Router) Registry() *Registry {
	return r.registry
}

// Handle registers h for control frames of type t.
func (r *Router) Handle(t MessageType, h ControlHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// HandleFrame processes one data channel message from peerID.
func (r *Router) HandleFrame(ctx context.Context, peerID string, f Frame) {
	in, err := DecodeFrame(f)
	if err != nil {
		slog.Warn("Dropping control frame", "peer", peerID, "error", err)
		return
	}

	switch frame := in.(type) {
	case *BinaryFrame:
		r.handleBinary(ctx, peerID, frame.Data)
	case *ControlFrame:
		r.handleControl(ctx, peerID, frame.Control)
	}
}

// DropPeer discards every partial transfer of peerID. Called when its channel closes.
func (r *Router) DropPeer(peerID string) {
	if n := r.registry.DropPeer(peerID); n > 0 {
		slog.Info("Discarded partial transfers", "peer", peerID, "count", n)
	}
}

func (r *Router) handleBinary(ctx context.Context, peerID string, data []byte) {
	var (
		done *Completed
		err  error
	)
	id, index, payload, tagged := DecodeTaggedChunk(data)
	switch {
	case tagged && r.registry.HasTagged(peerID, id):
		done, err = r.registry.AppendTagged(peerID, id, index, payload)
	case tagged && !r.rawOnly(peerID):
		// a late chunk of a dropped tagged transfer must not land in a raw buffer
		err = fmt.Errorf("%w: tagged chunk for unknown transfer %q", ErrNoBuffer, id)
	default:
		done, err = r.registry.AppendRaw(peerID, data)
	}
	if err != nil {
		slog.Warn("Dropping binary frame", "peer", peerID, "size", len(data), "error", err)
		return
	}
	if done != nil {
		r.complete(ctx, done)
	}
}

// rawOnly reports whether the peer's in-flight transfers are all raw, in which
// case a frame that happens to parse as tagged is still raw payload.
func (r *Router) rawOnly(peerID string) bool {
	raw, tagged := r.registry.inFlight(peerID)
	return raw > 0 && tagged == 0
}

func (r *Router) handleControl(ctx context.Context, peerID string, c Control) {
	switch m := c.(type) {
	case *ChunkMeta:
		if err := r.config.CheckAnnounced(m.FileSize, m.TotalChunks); err != nil {
			slog.Warn("Ignoring chunk-meta", "peer", peerID, "transfer", m.ChunkID, "error", err)
			return
		}
		sender := m.Sender
		if sender == "" {
			sender = peerID
		}
		done, err := r.registry.Register(peerID, Metadata{
			TransferID:  m.ChunkID,
			FileName:    m.FileName,
			MimeType:    m.FileType,
			TotalSize:   m.FileSize,
			TotalChunks: m.TotalChunks,
			Timestamp:   m.Timestamp,
			SenderID:    sender,
			Framing:     m.Framing,
		})
		if err != nil {
			slog.Warn("Ignoring chunk-meta", "peer", peerID, "transfer", m.ChunkID, "error", err)
			return
		}
		slog.Debug("Registered inbound transfer", "peer", peerID, "transfer", m.ChunkID, "chunks", m.TotalChunks)
		if done != nil {
			r.complete(ctx, done)
		}
		return
	case TransferRef:
		if r.registry.Attach(peerID, m.TransferID(), m.MessageID(), m.Header().Timestamp) {
			received, total, _ := r.registry.Progress(peerID, m.TransferID())
			slog.Debug("Deferred message until transfer completes",
				"peer", peerID,
				"transfer", m.TransferID(),
				"received", received,
				"chunks", total)
			return
		}
	}

	r.mu.RLock()
	h, ok := r.handlers[c.Header().Type]
	r.mu.RUnlock()
	if ok {
		h(peerID, c)
		return
	}
	r.emit(ctx, ControlMsg{PeerID: peerID, Control: c})
}

func (r *Router) complete(ctx context.Context, done *Completed) {
	meta := done.Metadata
	if r.config.VerifyHash && isSHA256Hex(meta.TransferID) {
		sum := sha256.Sum256(done.Data)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), meta.TransferID) {
			slog.Error("Completed transfer failed hash check", "peer", done.PeerID, "transfer", meta.TransferID)
			r.emit(ctx, TransferFailedMsg{PeerID: done.PeerID, TransferID: meta.TransferID, Err: ErrHashMismatch})
			return
		}
	}

	if r.cache != nil {
		err := r.cache.Put(ctx, cache.Entry{
			Key:      meta.TransferID,
			FileName: meta.FileName,
			MimeType: meta.MimeType,
			SenderID: meta.SenderID,
			Data:     done.Data,
		})
		switch {
		case errors.Is(err, cache.ErrExists):
			slog.Debug("Content already cached", "transfer", meta.TransferID)
		case err != nil:
			slog.Error("Failed to cache completed transfer", "peer", done.PeerID, "transfer", meta.TransferID, "error", err)
			r.emit(ctx, TransferFailedMsg{PeerID: done.PeerID, TransferID: meta.TransferID, Err: err})
			return
		}
	}

	slog.Info("Transfer complete", "peer", done.PeerID, "transfer", meta.TransferID, "size", len(done.Data))
	r.emit(ctx, TransferCompleteMsg{
		PeerID:            done.PeerID,
		TransferID:        meta.TransferID,
		FileName:          meta.FileName,
		MimeType:          meta.MimeType,
		Size:              int64(len(done.Data)),
		OriginalMessageID: meta.OriginalMessageID,
		SenderID:          meta.SenderID,
		Timestamp:         meta.Timestamp,
	})
}

func (r *Router) emit(ctx context.Context, msg appevents.AppUIMessage) {
	appevents.Emit(ctx.Done(), r.events, msg)
}

func isSHA256Hex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
