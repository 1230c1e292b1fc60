package cloudapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "vaultsync/0.1"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per
// "accept interfaces, return structs."
type TokenSource interface {
	Token() (string, error)
}

// Client is a retrying, authenticated HTTP client for the remote vault's
// REST backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client against baseURL, authenticating every request
// with token. A nil httpClient defaults to http.DefaultClient; a nil logger
// defaults to slog.Default().
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes an authenticated request with automatic retry on transient
// errors. The caller closes the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		if err := rewindBody(body); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("cloudapi: request canceled: %w", ctx.Err())
			}
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					"method", method, "path", path, "attempt", attempt+1,
					"backoff", backoff, "error", err.Error())
				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("cloudapi: request canceled: %w", sleepErr)
				}
				attempt++
				continue
			}
			return nil, fmt.Errorf("cloudapi: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}
		reqID := resp.Header.Get("request-id")

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				"method", method, "path", path, "status", resp.StatusCode,
				"attempt", attempt+1, "backoff", backoff)
			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("cloudapi: request canceled: %w", sleepErr)
			}
			attempt++
			continue
		}

		return nil, c.terminalError(method, path, resp.StatusCode, reqID, errBody, attempt)
	}
}

func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) terminalError(method, path string, statusCode int, reqID string, body []byte, attempt int) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		RequestID:  reqID,
		Message:    string(body),
		Err:        classifyStatus(statusCode),
	}
	if attempt > 0 {
		c.logger.Error("request failed after retries",
			"method", method, "path", path, "status", statusCode, "attempts", attempt+1)
	} else {
		c.logger.Warn("request failed", "method", method, "path", path, "status", statusCode)
	}
	return apiErr
}

// DownloadFromURL streams content from a pre-authenticated URL directly to
// w, bypassing the API's Authorization header (the URL is itself
// authenticated). Never logs the URL, since it may embed a short-lived
// token.
func (c *Client) DownloadFromURL(ctx context.Context, downloadURL string, w io.Writer) (int64, error) {
	var attempt int
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
		if err != nil {
			return 0, fmt.Errorf("cloudapi: creating download request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, fmt.Errorf("cloudapi: download canceled: %w", ctx.Err())
			}
			if attempt < maxRetries {
				if sleepErr := c.sleepFunc(ctx, c.calcBackoff(attempt)); sleepErr != nil {
					return 0, sleepErr
				}
				attempt++
				continue
			}
			return 0, fmt.Errorf("cloudapi: download failed after %d retries: %w", maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			n, copyErr := io.Copy(w, resp.Body)
			resp.Body.Close()
			if copyErr != nil {
				return n, fmt.Errorf("cloudapi: streaming download content: %w", copyErr)
			}
			return n, nil
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			if sleepErr := c.sleepFunc(ctx, c.retryBackoff(resp, attempt)); sleepErr != nil {
				return 0, sleepErr
			}
			attempt++
			continue
		}
		return 0, &APIError{StatusCode: resp.StatusCode, Message: string(errBody), Err: classifyStatus(resp.StatusCode)}
	}
}

func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return c.calcBackoff(attempt)
}

func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)
	backoff += jitter
	return time.Duration(backoff)
}

func rewindBody(body io.Reader) error {
	if body == nil {
		return nil
	}
	if seeker, ok := body.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("cloudapi: rewinding request body for retry: %w", err)
		}
	}
	return nil
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
