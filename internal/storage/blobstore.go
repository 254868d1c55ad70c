// Package storage provides the blob-store collaborator: store bytes under a
// key, get back a stable retrievable URL.
package storage

import "context"

// BlobStore persists raw asset bytes and returns the URL they are served
// from.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}
