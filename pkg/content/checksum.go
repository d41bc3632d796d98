package content

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex SHA-256 of data. It doubles as the transferId.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (b Blob) Verify() bool {
	return Hash(b.Data) == b.Hash
}
