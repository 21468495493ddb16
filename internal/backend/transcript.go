package backend

import (
	"context"
	"net/http"

	"github.com/raine/listing-agent/internal/listing"
)

type transcriptResponse struct {
	ConversationID string `json:"conversation_id"`
	Transcript     string `json:"transcript"`
}

// FetchTranscript retrieves the authoritative transcript for a finished
// conversation. A 404 means the server has not persisted the conversation
// yet (or never saw it) and is reported as NotFoundError.
func (c *Client) FetchTranscript(ctx context.Context, conversationID string) (string, error) {
	result := &transcriptResponse{}

	res, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		SetPathParams(map[string]string{
			"conversationId": conversationID,
		}).
		Get("/api/getTranscript/{conversationId}")
	if err == nil && res.StatusCode() == http.StatusNotFound {
		return "", &listing.NotFoundError{Resource: "transcript", ID: conversationID}
	}
	if _, err := handleError("GET /api/getTranscript", res, err); err != nil {
		return "", err
	}

	return result.Transcript, nil
}
