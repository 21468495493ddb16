package objectstore

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
)

// GCSUploader uploads objects to a Google Cloud Storage bucket and makes
// them publicly readable.
type GCSUploader struct {
	client *gcs.Client
	bucket string
}

// NewGCSUploader creates an uploader using application default credentials.
func NewGCSUploader(ctx context.Context, bucket string) (*GCSUploader, error) {
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSUploader{client: c, bucket: bucket}, nil
}

func (u *GCSUploader) Close() error { return u.client.Close() }

func (u *GCSUploader) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	obj := u.client.Bucket(u.bucket).Object(objectName)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", objectName, err)
	}

	if err := obj.ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader); err != nil {
		return "", fmt.Errorf("failed to make object %s public: %w", objectName, err)
	}

	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, objectName)
	log.Debug().Str("bucket", u.bucket).Str("object", objectName).Msg("uploaded image")
	return url, nil
}
