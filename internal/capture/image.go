package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxImageSize is the largest image accepted from disk (10MB).
const DefaultMaxImageSize = 10 * 1024 * 1024

// Image is the owned handle to a captured image. Data is never mutated
// after LoadImage returns; Preview is a display-only reference.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
	Preview  string
}

// LoadImage reads an image file, enforcing the size limit and that the
// content sniffs as an image.
func LoadImage(path string) (*Image, error) {
	return loadImage(path, DefaultMaxImageSize)
}

func loadImage(path string, maxSize int64) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	// Use LimitReader so a wrong stat size can't blow the limit
	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("image too large: exceeds limit of %d bytes", maxSize)
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("invalid content type: expected image/*, got %s", mimeType)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return &Image{
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Data:     data,
		Preview:  "file://" + abs,
	}, nil
}

// Hash returns the hex SHA256 of the image bytes.
func (i *Image) Hash() string {
	sum := sha256.Sum256(i.Data)
	return hex.EncodeToString(sum[:])
}

// Extension returns a file extension matching the image MIME type.
func (i *Image) Extension() string {
	switch i.MIMEType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
