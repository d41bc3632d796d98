package content

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", Hash([]byte("hello")))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	blob, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "note.txt", blob.Name)
	assert.Equal(t, int64(5), blob.Size)
	assert.True(t, strings.HasPrefix(blob.MimeType, "text/plain"))
	assert.Equal(t, Hash([]byte("hello")), blob.Hash)
	assert.True(t, blob.Verify())
}

func TestLoad_Directory(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrIsDir)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDetectMime(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	assert.Equal(t, "image/png", DetectMime(png))
	assert.Equal(t, "application/octet-stream", DetectMime([]byte{0x00, 0x01, 0x02, 0xff}))
}

func TestBlobVerifyDetectsTampering(t *testing.T) {
	blob := FromBytes("x", []byte("abc"))
	blob.Data = []byte("abd")
	assert.False(t, blob.Verify())
}
