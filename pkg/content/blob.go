package content

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// MaxBlobSize bounds what is read into memory for a single transfer.
const MaxBlobSize = 256 * 1024 * 1024

var (
	ErrIsDir    = errors.New("cannot send a directory")
	ErrTooLarge = errors.New("file exceeds maximum blob size")
)

// Blob is an in-memory payload ready for a chunked transfer.
type Blob struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	Hash     string `json:"hash"`
	Data     []byte `json:"-"`
}

// Load reads a regular file and derives its MIME type and content hash.
func Load(path string) (Blob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Blob{}, err
	}
	if info.IsDir() {
		return Blob{}, ErrIsDir
	}
	if info.Size() > MaxBlobSize {
		return Blob{}, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Blob{}, err
	}
	blob := FromBytes(filepath.Base(path), data)
	slog.Debug("Loaded blob", "name", blob.Name, "size", blob.Size, "mime", blob.MimeType)
	return blob, nil
}

// FromBytes wraps data already in memory, such as a sticker.
func FromBytes(name string, data []byte) Blob {
	return Blob{
		Name:     name,
		Size:     int64(len(data)),
		MimeType: DetectMime(data),
		Hash:     Hash(data),
		Data:     data,
	}
}

// DetectMime falls back to application/octet-stream.
func DetectMime(data []byte) string {
	return mimetype.Detect(data).String()
}
