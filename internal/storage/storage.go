// Package storage defines blob persistence for fetched page bodies. Result
// messages carry a blob URI instead of the page itself, keeping broker
// payloads small.
package storage

import (
	"context"
	"io"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
