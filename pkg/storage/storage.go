// Package storage keeps uploaded audio blobs.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"mime"
	"strings"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrEmptyFile          = errors.New("file is empty")
)

// MaxFileSize is the default upload limit (100 MB).
const MaxFileSize = 100 << 20

// AllowedContentTypes lists the audio formats the transcription provider accepts.
var AllowedContentTypes = map[string]bool{
	"audio/wav":    true,
	"audio/x-wav":  true,
	"audio/wave":   true,
	"audio/mpeg":   true,
	"audio/mp3":    true,
	"audio/mp4":    true,
	"audio/m4a":    true,
	"audio/x-m4a":  true,
	"audio/aac":    true,
	"audio/ogg":    true,
	"audio/webm":   true,
	"audio/flac":   true,
	"audio/x-flac": true,
}

// Object describes a stored blob.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	// Hash is the hex SHA-256 of the content.
	Hash string
}

type BlobStore interface {
	// Put stores content under key, rejecting content larger than maxSize.
	Put(ctx context.Context, key, contentType string, content io.Reader, maxSize int64) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// NormalizeContentType strips parameters and validates the media type.
func NormalizeContentType(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", ErrInvalidContentType
	}
	mediaType = strings.ToLower(mediaType)
	if !AllowedContentTypes[mediaType] {
		return "", ErrInvalidContentType
	}
	return mediaType, nil
}

// hashingCopy copies at most maxSize bytes from src to dst and hashes them.
func hashingCopy(dst io.Writer, src io.Reader, maxSize int64) (int64, string, error) {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	var h hash.Hash = sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, h), io.LimitReader(src, maxSize+1))
	if err != nil {
		return n, "", err
	}
	if n > maxSize {
		return n, "", ErrFileTooLarge
	}
	if n == 0 {
		return 0, "", ErrEmptyFile
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
