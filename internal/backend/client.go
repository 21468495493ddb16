package backend

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/raine/listing-agent/internal/listing"
)

// DefaultTimeout matches the upstream flow runner, which can take minutes
// on large images.
const DefaultTimeout = 10 * time.Minute

type ClientOpts struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the listing service: image analysis, transcript
// retrieval and pricing synthesis.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

func NewClient(opts ClientOpts) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := Client{baseURL: opts.BaseURL}
	c.httpClient = resty.New().
		SetDebug(false).
		SetBaseURL(c.baseURL).
		SetTimeout(timeout).
		SetHeaders(
			map[string]string{
				"Accept":     "application/json",
				"User-Agent": "listing-agent/1.0",
			},
		)

	return &c
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// handleError converts transport failures and >399 responses into
// ServiceError. Without this, failing responses would have nil error.
func handleError(op string, res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, &listing.ServiceError{Op: op, Err: err}
	}
	if res.IsError() {
		return res, &listing.ServiceError{
			Op:         op,
			StatusCode: res.StatusCode(),
			Err:        fmt.Errorf("request failed: %s %s: %s", res.Request.Method, res.Request.URL, truncate(res.String(), 200)),
		}
	}

	return res, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
