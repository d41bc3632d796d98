package transfer

import (
	"fmt"
	"sync"
	"time"
)

// Metadata describes one chunked transfer.
type Metadata struct {
	TransferID        string
	FileName          string
	MimeType          string
	TotalSize         int64
	TotalChunks       int
	OriginalMessageID string
	Timestamp         time.Time
	SenderID          string
	Framing           Framing
}

// OutboundState tracks progress of a transfer being sent.
type OutboundState struct {
	TransferID  string
	TotalChunks int
	SentCount   int
	TotalBytes  int64
	SentBytes   int64
}

// Completed is a fully reassembled inbound transfer.
type Completed struct {
	PeerID   string
	Metadata Metadata
	Data     []byte
}

type transferKey struct {
	peerID     string
	transferID string
}

type reassemblyBuffer struct {
	meta     Metadata
	chunks   [][]byte
	filled   []bool
	received int
	seq      uint64
}

// Registry is the single source of truth for in-flight transfers, keyed by
// (peerId, transferId). Sender and Router share one instance.
type Registry struct {
	mu       sync.Mutex
	inbound  map[transferKey]*reassemblyBuffer
	outbound map[transferKey]*OutboundState
	seq      uint64
}

func NewRegistry() *Registry {
	return &Registry{
		inbound:  make(map[transferKey]*reassemblyBuffer),
		outbound: make(map[transferKey]*OutboundState),
	}
}

// Register opens a reassembly buffer. A transfer with zero chunks completes
// immediately and is returned without being stored.
func (r *Registry) Register(peerID string, meta Metadata) (*Completed, error) {
	if meta.TransferID == "" {
		return nil, fmt.Errorf("%w: empty transfer id", ErrMalformedFrame)
	}
	if meta.Framing == "" {
		meta.Framing = FramingRaw
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := transferKey{peerID, meta.TransferID}
	if _, exists := r.inbound[key]; exists {
		return nil, fmt.Errorf("%w: %s from %s", ErrDuplicateTransfer, meta.TransferID, peerID)
	}
	if meta.TotalChunks == 0 {
		return &Completed{PeerID: peerID, Metadata: meta, Data: []byte{}}, nil
	}

	r.seq++
	r.inbound[key] = &reassemblyBuffer{
		meta:   meta,
		chunks: make([][]byte, meta.TotalChunks),
		filled: make([]bool, meta.TotalChunks),
		seq:    r.seq,
	}
	return nil, nil
}

// Attach records the chat message that references an in-flight transfer.
// It reports false when no such transfer is pending.
func (r *Registry) Attach(peerID, transferID, messageID string, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.inbound[transferKey{peerID, transferID}]
	if !ok {
		return false
	}
	buf.meta.OriginalMessageID = messageID
	if !ts.IsZero() {
		buf.meta.Timestamp = ts
	}
	return true
}

// pending returns the metadata of an in-flight inbound transfer.
func (r *Registry) pending(peerID, transferID string) (Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.inbound[transferKey{peerID, transferID}]
	if !ok {
		return Metadata{}, false
	}
	return buf.meta, true
}

// HasTagged reports whether peerID has an in-flight tagged transfer with this id.
func (r *Registry) HasTagged(peerID, transferID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.inbound[transferKey{peerID, transferID}]
	return ok && buf.meta.Framing == FramingTagged
}

// inFlight counts the peer's incomplete inbound transfers per framing.
func (r *Registry) inFlight(peerID string) (raw, tagged int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, buf := range r.inbound {
		if k.peerID != peerID {
			continue
		}
		if buf.meta.Framing == FramingTagged {
			tagged++
		} else {
			raw++
		}
	}
	return raw, tagged
}

// AppendRaw appends an untagged chunk to the most recently registered
// incomplete raw transfer of the peer.
func (r *Registry) AppendRaw(peerID string, data []byte) (*Completed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		key    transferKey
		latest *reassemblyBuffer
	)
	for k, buf := range r.inbound {
		if k.peerID != peerID || buf.meta.Framing != FramingRaw {
			continue
		}
		if latest == nil || buf.seq > latest.seq {
			key, latest = k, buf
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: peer %s", ErrNoBuffer, peerID)
	}
	return r.fill(key, latest, latest.received, data)
}

// AppendTagged places a chunk into its slot. Duplicate slots are ignored.
func (r *Registry) AppendTagged(peerID, transferID string, index int, data []byte) (*Completed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := transferKey{peerID, transferID}
	buf, ok := r.inbound[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s from %s", ErrNoBuffer, transferID, peerID)
	}
	if index < 0 || index >= len(buf.chunks) {
		return nil, fmt.Errorf("%w: chunk index %d out of range for %s", ErrMalformedFrame, index, transferID)
	}
	if buf.filled[index] {
		return nil, nil
	}
	return r.fill(key, buf, index, data)
}

func (r *Registry) fill(key transferKey, buf *reassemblyBuffer, index int, data []byte) (*Completed, error) {
	chunk := make([]byte, len(data))
	copy(chunk, data)
	buf.chunks[index] = chunk
	buf.filled[index] = true
	buf.received++

	if buf.received < len(buf.chunks) {
		return nil, nil
	}

	size := 0
	for _, c := range buf.chunks {
		size += len(c)
	}
	blob := make([]byte, 0, size)
	for _, c := range buf.chunks {
		blob = append(blob, c...)
	}
	delete(r.inbound, key)

	return &Completed{PeerID: key.peerID, Metadata: buf.meta, Data: blob}, nil
}

// Progress returns received and total chunk counts of an inbound transfer.
func (r *Registry) Progress(peerID, transferID string) (received, total int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.inbound[transferKey{peerID, transferID}]
	if !ok {
		return 0, 0, false
	}
	return buf.received, len(buf.chunks), true
}

// BeginOutbound starts tracking a transfer being sent to peerID.
func (r *Registry) BeginOutbound(peerID, transferID string, totalChunks int, totalBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := transferKey{peerID, transferID}
	if _, exists := r.outbound[key]; exists {
		return fmt.Errorf("%w: %s to %s", ErrDuplicateTransfer, transferID, peerID)
	}
	r.outbound[key] = &OutboundState{
		TransferID:  transferID,
		TotalChunks: totalChunks,
		TotalBytes:  totalBytes,
	}
	return nil
}

// AdvanceOutbound records one more sent chunk of n bytes.
func (r *Registry) AdvanceOutbound(peerID, transferID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.outbound[transferKey{peerID, transferID}]; ok {
		st.SentCount++
		st.SentBytes += int64(n)
	}
}

func (r *Registry) EndOutbound(peerID, transferID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outbound, transferKey{peerID, transferID})
}

// Outbound returns a copy of the outbound state.
func (r *Registry) Outbound(peerID, transferID string) (OutboundState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.outbound[transferKey{peerID, transferID}]
	if !ok {
		return OutboundState{}, false
	}
	return *st, true
}

// DropPeer discards every inbound buffer of the peer and returns how many
// were dropped. Outbound state is left to the sender, which notices the
// closed channel and cleans up.
func (r *Registry) DropPeer(peerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for k := range r.inbound {
		if k.peerID == peerID {
			delete(r.inbound, k)
			dropped++
		}
	}
	return dropped
}

// RenamePeer moves every entry of from to to. Nothing moves if to already
// holds an entry with the same transferId.
func (r *Registry) RenamePeer(from, to string) error {
	if from == to {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.inbound {
		if k.peerID == from {
			if _, clash := r.inbound[transferKey{to, k.transferID}]; clash {
				return fmt.Errorf("%w: %s already in flight for %s", ErrDuplicateTransfer, k.transferID, to)
			}
		}
	}
	for k := range r.outbound {
		if k.peerID == from {
			if _, clash := r.outbound[transferKey{to, k.transferID}]; clash {
				return fmt.Errorf("%w: %s already in flight for %s", ErrDuplicateTransfer, k.transferID, to)
			}
		}
	}

	for k, buf := range r.inbound {
		if k.peerID == from {
			delete(r.inbound, k)
			r.inbound[transferKey{to, k.transferID}] = buf
		}
	}
	for k, st := range r.outbound {
		if k.peerID == from {
			delete(r.outbound, k)
			r.outbound[transferKey{to, k.transferID}] = st
		}
	}
	return nil
}

// Count returns the number of inbound and outbound entries held for peerID.
func (r *Registry) Count(peerID string) (inbound, outbound int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.inbound {
		if k.peerID == peerID {
			inbound++
		}
	}
	for k := range r.outbound {
		if k.peerID == peerID {
			outbound++
		}
	}
	return inbound, outbound
}
