package transfer

import (
	"errors"
	"fmt"
	"time"
)

// Framing selects how binary chunk frames are laid out on the wire.
type Framing string

const (
	// FramingRaw sends bare payload bytes. Receivers correlate them to the
	// most recently registered incomplete transfer of the peer.
	FramingRaw Framing = "raw"
	// FramingTagged prefixes each payload with the transferId and chunk index.
	FramingTagged Framing = "tagged"
)

// TransferConfig holds all configuration for the chunked transfer protocol.
type TransferConfig struct {
	ChunkSize    int `json:"chunk_size"`
	MaxChunkSize int `json:"max_chunk_size"`
	MinChunkSize int `json:"min_chunk_size"`

	// Backpressure: sending pauses while the channel buffers more than
	// HighWaterMark bytes and polls every PollInterval.
	HighWaterMark uint64        `json:"high_water_mark"`
	PollInterval  time.Duration `json:"poll_interval"`

	// YieldEvery hands the processor back to the scheduler every N chunks.
	YieldEvery int `json:"yield_every"`

	Framing Framing `json:"framing"`

	// VerifyHash checks completed blobs against a SHA-256 transferId.
	VerifyHash bool `json:"verify_hash"`

	// MaxFileSize bounds both what is sent and what a peer may announce.
	MaxFileSize int64 `json:"max_file_size"`
}

const (
	DefaultChunkSize = 64 * 1024
	MaxChunkSize     = 256 * 1024
	MinChunkSize     = 1024

	DefaultHighWaterMark = 2 * 1024 * 1024
	DefaultPollInterval  = 50 * time.Millisecond
	DefaultYieldEvery    = 16
	DefaultMaxFileSize   = 256 * 1024 * 1024
)

// DefaultTransferConfig returns a configuration with sensible defaults
func DefaultTransferConfig() *TransferConfig {
	return &TransferConfig{
		ChunkSize:     DefaultChunkSize,
		MaxChunkSize:  MaxChunkSize,
		MinChunkSize:  MinChunkSize,
		HighWaterMark: DefaultHighWaterMark,
		PollInterval:  DefaultPollInterval,
		YieldEvery:    DefaultYieldEvery,
		Framing:       FramingRaw,
		VerifyHash:    true,
		MaxFileSize:   DefaultMaxFileSize,
	}
}

// Validate checks if the configuration values are valid
func (tc *TransferConfig) Validate() error {
	if tc.ChunkSize <= 0 {
		return errors.New("chunk_size must be positive")
	}
	if tc.MinChunkSize <= 0 {
		return errors.New("min_chunk_size must be positive")
	}
	if tc.MaxChunkSize <= 0 {
		return errors.New("max_chunk_size must be positive")
	}
	if tc.ChunkSize < tc.MinChunkSize {
		return errors.New("chunk_size cannot be less than min_chunk_size")
	}
	if tc.ChunkSize > tc.MaxChunkSize {
		return errors.New("chunk_size cannot be greater than max_chunk_size")
	}
	if tc.MinChunkSize > tc.MaxChunkSize {
		return errors.New("min_chunk_size cannot be greater than max_chunk_size")
	}
	if tc.HighWaterMark == 0 {
		return errors.New("high_water_mark must be positive")
	}
	if tc.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if tc.YieldEvery < 0 {
		return errors.New("yield_every cannot be negative")
	}
	if tc.MaxFileSize <= 0 {
		return errors.New("max_file_size must be positive")
	}
	switch tc.Framing {
	case FramingRaw, FramingTagged:
	default:
		return errors.New("framing must be raw or tagged")
	}
	return nil
}

// IsValidChunkSize checks if a chunk size is within acceptable bounds
func (tc *TransferConfig) IsValidChunkSize(chunkSize int) bool {
	return chunkSize >= tc.MinChunkSize && chunkSize <= tc.MaxChunkSize
}

// CheckAnnounced rejects an inbound chunk-meta whose size exceeds
// MaxFileSize or whose chunk count no chunk size in
// [MinChunkSize, MaxChunkSize] could produce.
func (tc *TransferConfig) CheckAnnounced(fileSize int64, totalChunks int) error {
	if fileSize > tc.MaxFileSize {
		return fmt.Errorf("%w: fileSize %d exceeds %d", ErrMalformedFrame, fileSize, tc.MaxFileSize)
	}
	lo, hi := TotalChunks(fileSize, tc.MaxChunkSize), TotalChunks(fileSize, tc.MinChunkSize)
	if totalChunks < lo || totalChunks > hi {
		return fmt.Errorf("%w: %d chunks for %d bytes, want %d..%d", ErrMalformedFrame, totalChunks, fileSize, lo, hi)
	}
	return nil
}
