package backend

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/listing"
)

type analysisResponse struct {
	ImageAnalysisResult string `json:"image_analysis_result"`
}

// AnalyzeImage uploads the image to /process-image and returns the
// textual analysis. No retries.
func (c *Client) AnalyzeImage(ctx context.Context, img *capture.Image) (string, error) {
	const op = "POST /process-image"
	result := &analysisResponse{}

	res, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		SetMultipartField("file", img.Name, img.MIMEType, bytes.NewReader(img.Data)).
		Post("/process-image")
	_, err = handleError(op, res, err)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(result.ImageAnalysisResult)
	if text == "" {
		return "", &listing.ServiceError{Op: op, Err: errors.New("empty image_analysis_result")}
	}

	log.Info().Str("image", img.Name).Int("bytes", len(img.Data)).Int("resultLen", len(text)).Msg("image analyzed")
	return text, nil
}
