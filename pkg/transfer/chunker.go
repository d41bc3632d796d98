package transfer

import (
	"encoding/binary"
	"fmt"
	"io"
)

type Chunk struct {
	Index  int
	Offset int64
	Data   []byte
	IsLast bool
}

// Chunker splits an in-memory blob into fixed-size chunks. The last chunk
// holds the remainder.
type Chunker struct {
	data      []byte
	chunkSize int
	total     int
	next      int
}

func NewChunker(data []byte, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	return &Chunker{
		data:      data,
		chunkSize: chunkSize,
		total:     TotalChunks(int64(len(data)), chunkSize),
	}, nil
}

// TotalChunks returns ceil(size/chunkSize).
func TotalChunks(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

func (c *Chunker) TotalChunks() int {
	return c.total
}

func (c *Chunker) Next() (*Chunk, error) {
	if c.next >= c.total {
		return nil, io.EOF
	}
	start := c.next * c.chunkSize
	end := min(start+c.chunkSize, len(c.data))
	chunk := &Chunk{
		Index:  c.next,
		Offset: int64(start),
		Data:   c.data[start:end],
		IsLast: c.next == c.total-1,
	}
	c.next++
	return chunk, nil
}

const (
	taggedFrameVersion byte = 0x01
	maxTaggedIDLen          = 255
	taggedIndexLen          = 4
)

// EncodeTaggedChunk lays out version | len(id) | id | index (uint32 BE) | payload.
func EncodeTaggedChunk(transferID string, index int, payload []byte) []byte {
	out := make([]byte, 0, 2+len(transferID)+taggedIndexLen+len(payload))
	out = append(out, taggedFrameVersion, byte(len(transferID)))
	out = append(out, transferID...)
	out = binary.BigEndian.AppendUint32(out, uint32(index))
	return append(out, payload...)
}

// DecodeTaggedChunk reverses EncodeTaggedChunk. ok is false when data cannot
// be a tagged frame.
func DecodeTaggedChunk(data []byte) (transferID string, index int, payload []byte, ok bool) {
	if len(data) < 2 || data[0] != taggedFrameVersion {
		return "", 0, nil, false
	}
	idLen := int(data[1])
	if idLen == 0 || len(data) < 2+idLen+taggedIndexLen {
		return "", 0, nil, false
	}
	transferID = string(data[2 : 2+idLen])
	index = int(binary.BigEndian.Uint32(data[2+idLen : 2+idLen+taggedIndexLen]))
	return transferID, index, data[2+idLen+taggedIndexLen:], true
}
