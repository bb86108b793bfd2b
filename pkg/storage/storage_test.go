package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]BlobStore {
	fs, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	return map[string]BlobStore{
		"filesystem": fs,
		"memory":     NewMemoryStore(),
	}
}

func TestPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	content := "RIFF....WAVEfmt "
	sum := sha256.Sum256([]byte(content))

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			obj, err := s.Put(ctx, "interactions/1/a.wav", "audio/wav; codecs=1", strings.NewReader(content), 1024)
			require.NoError(t, err)
			assert.Equal(t, "audio/wav", obj.ContentType)
			assert.Equal(t, int64(len(content)), obj.Size)
			assert.Equal(t, hex.EncodeToString(sum[:]), obj.Hash)

			rc, err := s.Open(ctx, "interactions/1/a.wav")
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			assert.Equal(t, content, string(got))

			require.NoError(t, s.Delete(ctx, "interactions/1/a.wav"))
			_, err = s.Open(ctx, "interactions/1/a.wav")
			assert.ErrorIs(t, err, ErrBlobNotFound)
		})
	}
}

func TestPutRejects(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Put(ctx, "big.wav", "audio/wav", strings.NewReader(strings.Repeat("x", 11)), 10)
			assert.ErrorIs(t, err, ErrFileTooLarge)

			_, err = s.Put(ctx, "doc.pdf", "application/pdf", strings.NewReader("x"), 10)
			assert.ErrorIs(t, err, ErrInvalidContentType)

			_, err = s.Put(ctx, "empty.wav", "audio/wav", strings.NewReader(""), 10)
			assert.ErrorIs(t, err, ErrEmptyFile)

			_, err = s.Open(ctx, "big.wav")
			assert.ErrorIs(t, err, ErrBlobNotFound)
		})
	}
}
