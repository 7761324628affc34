package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"

	"github.com/marketpulse/realtime/internal/model"
)

// errPermanent marks failures that must not be retried. The repeater
// stops on it; callers receive the underlying error.
var errPermanent = errors.New("permanent status error")

// APIError represents an error response from the status endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client fetches job status over REST.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
	rptr       *repeater.Repeater
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a status client for the given API base URL.
func NewClient(baseURL, authToken string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
		rptr: repeater.New(&strategy.Backoff{
			Repeats:  3,
			Duration: 500 * time.Millisecond,
			Factor:   2,
			Jitter:   true,
		}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry policy (attempts including the first, and
// base delay between them).
func WithRetries(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.rptr = repeater.New(&strategy.Backoff{
			Repeats:  attempts,
			Duration: delay,
			Factor:   2,
		})
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// JobStatus fetches the current execution state of a job. 5xx and 429
// responses are retried with backoff; other failures return directly.
func (c *Client) JobStatus(ctx context.Context, jobID string) (model.JobStatusPayload, error) {
	endpoint := fmt.Sprintf("%s/api/v1/jobs/%s/status", c.baseURL, url.PathEscape(jobID))

	var payload model.JobStatusPayload
	var permErr error

	err := c.rptr.Do(ctx, func() error {
		body, err := c.fetch(ctx, endpoint)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
				permErr = err
				return errPermanent
			}
			c.logger.Debug("status fetch failed, may retry", "job_id", jobID, "error", err)
			return err
		}

		if uerr := json.Unmarshal(body, &payload); uerr != nil {
			permErr = fmt.Errorf("unmarshal status response: %w", uerr)
			return errPermanent
		}
		return nil
	}, errPermanent)

	if err != nil {
		if permErr != nil {
			return model.JobStatusPayload{}, permErr
		}
		return model.JobStatusPayload{}, err
	}

	return payload, nil
}

// fetch performs one GET against the endpoint.
func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}
