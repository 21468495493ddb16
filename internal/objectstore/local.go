package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalUploader writes objects to a directory. The returned URL is
// baseURL/objectName when baseURL is set, a file:// URL otherwise.
type LocalUploader struct {
	dir     string
	baseURL string
}

func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &LocalUploader{dir: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (u *LocalUploader) Close() error { return nil }

func (u *LocalUploader) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	if objectName == "" || objectName != filepath.Base(objectName) {
		return "", fmt.Errorf("invalid object name %q", objectName)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(u.dir, objectName)
	tmp, err := os.CreateTemp(u.dir, "."+objectName+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", objectName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", objectName, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", objectName, err)
	}

	if u.baseURL != "" {
		return u.baseURL + "/" + url.PathEscape(objectName), nil
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}
