package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/pkg/retry"
	"github.com/c360/semtrust/transport"
)

// Client talks to a publisher's announcement exchange
type Client struct {
	baseURL string
	http    *http.Client
	retry   errors.RetryConfig
	logger  *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetry sets the retry policy for both calls
func WithRetry(cfg errors.RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a client for the publisher at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		retry: errors.RetryConfig{
			MaxRetries:    10,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2.0,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "publisher-client", "publisher", c.baseURL)
	return c
}

// AnnouncementID fetches the publisher's stream address, retrying while the
// publisher is unreachable.
func (c *Client) AnnouncementID(ctx context.Context) (transport.Address, error) {
	var resp AnnouncementResponse
	err := retry.Do(ctx, c.retry.ToRetryConfig(), func() error {
		err := c.do(ctx, http.MethodGet, AnnouncementPath, nil, &resp)
		if err != nil {
			c.logger.Warn("announcement fetch failed", "error", err)
		}
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, "gateway", "AnnouncementID", "fetch announcement")
	}
	if resp.AnnouncementID == "" {
		return "", errors.WrapInvalid(fmt.Errorf("%w: empty announcement id", errors.ErrProtocol),
			"gateway", "AnnouncementID", "decode response")
	}
	return transport.Address(resp.AnnouncementID), nil
}

// Subscribe posts a subscription request and returns the publisher's message
func (c *Client) Subscribe(ctx context.Context, req SubscriptionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.WrapInvalid(err, "gateway", "Subscribe", "marshal request")
	}

	var resp SubscriptionResponse
	err = retry.Do(ctx, c.retry.ToRetryConfig(), func() error {
		return c.do(ctx, http.MethodPost, SubscribePath, body, &resp)
	})
	if err != nil {
		return "", errors.Wrap(err, "gateway", "Subscribe", "post subscription")
	}
	return resp.Message, nil
}

// do performs one request. 4xx replies other than 429 are not retried.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "gateway", "do", "build request"))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "gateway", "do", method+" "+path)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, defaultMaxBodySize))
	if err != nil {
		return errors.WrapTransient(err, "gateway", "do", "read response")
	}

	if res.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		err := fmt.Errorf("%s %s: status %d: %s", method, path, res.StatusCode, msg)
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return retry.NonRetryable(errors.WrapInvalid(err, "gateway", "do", "check status"))
		}
		return errors.WrapTransient(err, "gateway", "do", "check status")
	}

	if err := json.Unmarshal(data, out); err != nil {
		return retry.NonRetryable(errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "gateway", "do", "decode response"))
	}
	return nil
}
