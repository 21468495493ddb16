package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/listing"
)

const (
	DefaultAPIBaseURL       = "https://api.elevenlabs.io"
	DefaultWSBaseURL        = "wss://api.elevenlabs.io"
	DefaultHandshakeTimeout = 15 * time.Second
)

type DialerOpts struct {
	AgentID string
	// APIKey is optional. When set, a signed URL is requested first so
	// private agents can be reached.
	APIKey           string
	APIBaseURL       string
	WSBaseURL        string
	HandshakeTimeout time.Duration
}

// Dialer opens conversations with a remote conversational agent.
type Dialer struct {
	opts       DialerOpts
	httpClient *resty.Client
	ws         *websocket.Dialer
}

var _ Opener = (*Dialer)(nil)

func NewDialer(opts DialerOpts) *Dialer {
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = DefaultAPIBaseURL
	}
	if opts.WSBaseURL == "" {
		opts.WSBaseURL = DefaultWSBaseURL
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &Dialer{
		opts: opts,
		httpClient: resty.New().
			SetBaseURL(opts.APIBaseURL).
			SetTimeout(opts.HandshakeTimeout).
			SetHeader("Accept", "application/json"),
		ws: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// Open connects to the agent, sends the dynamic variables and waits for the
// conversation id. The returned session is connected and already streaming
// the microphone. There is no reconnect: once Done is closed the session is
// finished.
func (d *Dialer) Open(ctx context.Context, opts Options) (Conversation, error) {
	if opts.Microphone == nil {
		return nil, &listing.CaptureError{Op: "voice session", Err: errors.New("no microphone stream")}
	}
	if d.opts.AgentID == "" {
		return nil, &listing.SessionError{Op: "open", Err: errors.New("agent id is not configured")}
	}

	notify := func(s Status) {
		if opts.OnStatus != nil {
			opts.OnStatus(s)
		}
	}
	notify(StatusConnecting)

	wsURL, err := d.conversationURL(ctx)
	if err != nil {
		notify(StatusDisconnected)
		return nil, err
	}

	conn, _, err := d.ws.DialContext(ctx, wsURL, nil)
	if err != nil {
		notify(StatusDisconnected)
		return nil, &listing.SessionError{Op: "dial", Err: err}
	}

	id, err := d.handshake(ctx, conn, opts.DynamicVariables)
	if err != nil {
		conn.Close()
		notify(StatusDisconnected)
		return nil, err
	}

	s := newSession(id, conn, opts)
	s.setStatus(StatusConnected)
	go s.run()

	log.Info().Str("conversationID", id).Str("agentID", d.opts.AgentID).Msg("voice session connected")
	return s, nil
}

func (d *Dialer) conversationURL(ctx context.Context) (string, error) {
	if d.opts.APIKey == "" {
		q := url.Values{}
		q.Set("agent_id", d.opts.AgentID)
		return strings.TrimRight(d.opts.WSBaseURL, "/") + "/v1/convai/conversation?" + q.Encode(), nil
	}

	result := &signedURLResponse{}
	res, err := d.httpClient.R().
		SetContext(ctx).
		SetHeader("xi-api-key", d.opts.APIKey).
		SetQueryParam("agent_id", d.opts.AgentID).
		SetResult(result).
		Get("/v1/convai/conversation/get_signed_url")
	if err != nil {
		return "", &listing.SessionError{Op: "get signed url", Err: err}
	}
	if res.IsError() {
		return "", &listing.SessionError{Op: "get signed url", Err: fmt.Errorf("status %d", res.StatusCode())}
	}
	if result.SignedURL == "" {
		return "", &listing.SessionError{Op: "get signed url", Err: errors.New("empty signed_url")}
	}
	return result.SignedURL, nil
}

// handshake sends the client init message and reads until the agent
// reports the conversation id.
func (d *Dialer) handshake(ctx context.Context, conn *websocket.Conn, vars map[string]string) (string, error) {
	deadline := time.Now().Add(d.opts.HandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(initClientData{Type: msgInitClientData, DynamicVariables: vars}); err != nil {
		return "", &listing.SessionError{Op: "handshake", Err: err}
	}

	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", &listing.SessionError{Op: "handshake", Err: err}
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != msgInitMetadata {
			continue
		}
		if msg.InitMetadata == nil || msg.InitMetadata.ConversationID == "" {
			return "", &listing.SessionError{Op: "handshake", Err: errors.New("metadata without conversation id")}
		}

		log.Debug().
			Str("conversationID", msg.InitMetadata.ConversationID).
			Str("outputFormat", msg.InitMetadata.AgentOutputAudioFormat).
			Str("inputFormat", msg.InitMetadata.UserInputAudioFormat).
			Msg("agent handshake complete")
		return msg.InitMetadata.ConversationID, nil
	}
}
