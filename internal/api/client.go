// Package api provides the authenticated HTTP client for the QuickBooks
// Online API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/timewarp/quickbooks-cli/internal/auth"
	"github.com/timewarp/quickbooks-cli/internal/config"
	"github.com/timewarp/quickbooks-cli/internal/observability"
	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
	"github.com/timewarp/quickbooks-cli/internal/version"
)

// Client executes authenticated requests against the QuickBooks API. It
// resolves credentials through the auth manager before each dispatch and
// retries exactly once after a 401, behind a forced token refresh.
type Client struct {
	httpClient *http.Client
	auth       *auth.Manager
	cfg        *config.Config
	trace      *observability.TraceWriter
}

// Response wraps an API response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
}

// NoContent reports whether the server returned a success with an empty
// body.
func (r *Response) NoContent() bool {
	return len(r.Data) == 0
}

// UnmarshalData unmarshals the response data into the given value.
// Field names match case-insensitively, per encoding/json. An empty
// body leaves v untouched and returns nil.
func (r *Response) UnmarshalData(v any) error {
	if r.NoContent() {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// NewClient creates a new API client. The request timeout comes from
// the configuration.
func NewClient(cfg *config.Config, authMgr *auth.Manager) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		auth: authMgr,
		cfg:  cfg,
	}
}

// SetTrace enables request/response tracing.
func (c *Client) SetTrace(tw *observability.TraceWriter) {
	c.trace = tw
}

// Get performs a GET request against the realm's company endpoint.
func (c *Client) Get(ctx context.Context, realmID, path string) (*Response, error) {
	return c.do(ctx, realmID, "GET", path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, realmID, path string, body any) (*Response, error) {
	return c.do(ctx, realmID, "POST", path, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, realmID, path string, body any) (*Response, error) {
	return c.do(ctx, realmID, "PUT", path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, realmID, path string) (*Response, error) {
	return c.do(ctx, realmID, "DELETE", path, nil)
}

// Query issues a QuickBooks SQL-like query, e.g.
// "SELECT * FROM Customer WHERE Active = true".
func (c *Client) Query(ctx context.Context, realmID, query string) (*Response, error) {
	return c.do(ctx, realmID, "GET", "query?query="+url.QueryEscape(query), nil)
}

// do executes one logical call: resolve credentials, dispatch, classify,
// and retry at most once after a 401 behind a forced refresh.
func (c *Client) do(ctx context.Context, realmID, method, path string, body any) (*Response, error) {
	reqURL := c.buildURL(realmID, path)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(pruneNulls(body))
		if err != nil {
			return nil, qberrors.ErrInternal("failed to marshal request body", err)
		}
	}

	const maxAttempts = 2
	for attempt := 1; ; attempt++ {
		accessToken, err := c.resolveToken(ctx, realmID, attempt > 1)
		if err != nil {
			return nil, err
		}

		resp, retryable, err := c.dispatch(ctx, method, reqURL, payload, accessToken, attempt)
		if err != nil {
			return nil, err
		}
		if retryable && attempt < maxAttempts {
			if c.trace != nil {
				c.trace.WriteRetry("after 401: refreshing tokens")
			}
			continue
		}
		return resp, nil
	}
}

// resolveToken returns a bearer token for the realm. The first attempt
// takes the ensure-fresh path; the retry forces a refresh on the theory
// that the issuer's clock may disagree with the local expiry estimate.
func (c *Client) resolveToken(ctx context.Context, realmID string, forced bool) (string, error) {
	if forced {
		creds, err := c.auth.ForceRefresh(ctx, realmID)
		if err != nil {
			return "", err
		}
		return creds.AccessToken, nil
	}
	creds, err := c.auth.EnsureFresh(ctx, realmID)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// dispatch performs a single HTTP round trip. It reports retryable=true
// only for a first-attempt 401; every other non-2xx outcome is
// classified into a structured error.
func (c *Client) dispatch(ctx context.Context, method, reqURL string, payload []byte, accessToken string, attempt int) (*Response, bool, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, false, qberrors.ErrInternal("failed to build request", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.trace != nil {
		c.trace.WriteRequest(method, reqURL, attempt)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.trace != nil {
			c.trace.WriteError(err)
		}
		return nil, false, classifyTransport(ctx, reqURL, err)
	}
	defer resp.Body.Close()

	// Read the whole body even on failure; the classifier needs it.
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, qberrors.ErrNetwork(reqURL, err)
	}

	if c.trace != nil {
		c.trace.WriteResponse(resp.StatusCode, len(respBody), time.Since(start))
	}

	if resp.StatusCode == http.StatusUnauthorized && attempt == 1 {
		return nil, true, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, qberrors.FromResponse(resp.StatusCode, reqURL, string(respBody))
	}

	return &Response{
		Data:       respBody,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}, false, nil
}

// buildURL assembles the absolute request URL and appends the minor
// version parameter once.
func (c *Client) buildURL(realmID, endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return c.addMinorVersion(c.cfg.BaseURL() + "/v3/company/" + realmID + "/" + endpoint)
}

// addMinorVersion appends the configured minorversion query parameter
// unless it is empty or already present.
func (c *Client) addMinorVersion(rawURL string) string {
	if c.cfg.MinorVersion == "" {
		return rawURL
	}
	if strings.Contains(strings.ToLower(rawURL), "minorversion") {
		return rawURL
	}

	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return rawURL + separator + "minorversion=" + c.cfg.MinorVersion
}

// classifyTransport maps a round-trip failure onto the error taxonomy:
// deadline expiry becomes a synthetic 408, caller cancellation
// propagates as-is, everything else is a synthetic 503.
func classifyTransport(ctx context.Context, reqURL string, err error) error {
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return qberrors.ErrTimeout(reqURL, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return qberrors.ErrTimeout(reqURL, err)
	}
	return qberrors.ErrNetwork(reqURL, err)
}

// pruneNulls drops null-valued fields from generic JSON maps before
// serialization, matching the outbound-only null handling of the API.
// Typed structs are returned unchanged; omitempty is the caller's job
// there.
func pruneNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			out[k] = pruneNulls(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, pruneNulls(item))
		}
		return out
	default:
		return v
	}
}
