// Package storage keeps uploaded attachment blobs.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"strconv"
)

var ErrNotFound = errors.New("blob not found")

// BlobStore persists attachment bytes under a relative key.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SafeFilename replaces anything outside [A-Za-z0-9._-] with "_".
func SafeFilename(name string) string {
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return "_"
	}
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// Key is the relative location of an attachment: "{sourceID}/{safe filename}".
func Key(sourceID int64, filename string) string {
	return strconv.FormatInt(sourceID, 10) + "/" + SafeFilename(filename)
}
