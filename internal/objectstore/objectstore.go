// Package objectstore uploads listing images and returns a public URL.
package objectstore

import (
	"context"
	"io"
)

// Uploader stores an object and returns the URL it can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error)
	Close() error
}
