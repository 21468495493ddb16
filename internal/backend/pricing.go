package backend

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/listing"
)

type priceRequest struct {
	Transcript  string `json:"transcript"`
	Description string `json:"description"`
}

type priceResponse struct {
	Listing *listing.Listing `json:"listing"`
}

// SynthesizeListing submits the transcript and the image analysis to
// /price-analysis. The price is returned as-is; sign and range are for the
// reviewer to judge.
func (c *Client) SynthesizeListing(ctx context.Context, transcript, analysisText string) (*listing.Listing, error) {
	const op = "POST /price-analysis"
	result := &priceResponse{}

	res, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(priceRequest{Transcript: transcript, Description: analysisText}).
		SetResult(result).
		Post("/price-analysis")
	_, err = handleError(op, res, err)
	if err != nil {
		return nil, err
	}

	if result.Listing == nil {
		return nil, &listing.ServiceError{Op: op, Err: errors.New("response has no listing")}
	}

	log.Info().
		Str("title", result.Listing.Title).
		Float64("price", result.Listing.Price).
		Str("category", result.Listing.Category).
		Msg("listing synthesized")

	return result.Listing, nil
}
