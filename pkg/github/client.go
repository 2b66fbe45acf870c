// Package github is a small GitHub REST client used by the status reporters.
//
// Requests are made over HTTPS only. A token is optional: the legacy status
// reporter may run without one, in which case no Authorization header is
// sent. Non-2xx responses are returned as *APIError.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the base URL of the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const apiVersion = "2022-11-28"

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 8 << 20

// maxRetryWait caps how long a rate-limited request waits before its one retry.
const maxRetryWait = time.Minute

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to DefaultBaseURL.
	// Must use HTTPS.
	BaseURL string

	// Token is sent as a Bearer token when non-empty.
	Token string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client issues authenticated GitHub API requests.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. It fails for non-HTTPS base URLs.
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// WithToken returns a copy of the client that authenticates with token.
func (client *Client) WithToken(token string) *Client {
	clone := *client
	clone.token = token
	return &clone
}

// BaseURL returns the API root without a trailing slash.
func (client *Client) BaseURL() string {
	return client.baseURL
}

// Do sends a request and returns the raw response body. The resource is
// either a path relative to the base URL ("/repos/o/r/statuses/sha") or an
// absolute URL under the base URL, as returned in API responses. A non-nil
// body is JSON-encoded.
func (client *Client) Do(ctx context.Context, method, resource string, body any) ([]byte, error) {
	url, err := client.resolve(resource)
	if err != nil {
		return nil, err
	}
	return client.doWithRetry(ctx, method, url, body, false)
}

// DoJSON is Do followed by decoding the response into result. An empty
// response body leaves result untouched.
func (client *Client) DoJSON(ctx context.Context, method, resource string, body, result any) error {
	data, err := client.Do(ctx, method, resource, body)
	if err != nil {
		return err
	}
	if result == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("github: decoding %s %s response: %w", method, resource, err)
	}
	return nil
}

func (client *Client) resolve(resource string) (string, error) {
	switch {
	case strings.HasPrefix(resource, "/"):
		return client.baseURL + resource, nil
	case strings.HasPrefix(resource, client.baseURL+"/"):
		return resource, nil
	case strings.Contains(resource, "://"):
		// Never send the token to another host.
		return "", fmt.Errorf("github: resource %q is outside %s", resource, client.baseURL)
	default:
		return client.baseURL + "/" + resource, nil
	}
}

func (client *Client) doWithRetry(ctx context.Context, method, url string, body any, isRetry bool) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	if client.token != "" {
		request.Header.Set("Authorization", "Bearer "+client.token)
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", method, url, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("github: reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		// Retry once on rate limiting when the server says how long to wait.
		if !isRetry && (response.StatusCode == http.StatusTooManyRequests ||
			(response.StatusCode == http.StatusForbidden && isRateLimitMessage(string(data)))) {
			if wait := retryAfter(response.Header); wait > 0 {
				client.logger.Info("rate limited, backing off", "duration", wait, "method", method, "url", url)
				timer := time.NewTimer(wait)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return client.doWithRetry(ctx, method, url, body, true)
			}
		}
		return nil, parseAPIError(response.StatusCode, data)
	}
	return data, nil
}

// retryAfter reads the Retry-After header (seconds), capped at maxRetryWait.
func retryAfter(header http.Header) time.Duration {
	seconds, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	wait := time.Duration(seconds) * time.Second
	if wait > maxRetryWait {
		wait = maxRetryWait
	}
	return wait
}
