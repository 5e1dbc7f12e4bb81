// Package oauth implements the OAuth2 wire protocol against Intuit's
// authorization, token, and revocation endpoints. It knows nothing about
// credential storage or expiry policy; that lives in internal/auth.
package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

// Intuit endpoint defaults. The token and revocation endpoints are shared
// between the sandbox and production environments; only the resource API
// base URL differs.
const (
	DefaultAuthorizationEndpoint = "https://appcenter.intuit.com/connect/oauth2"
	DefaultTokenEndpoint         = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	DefaultRevocationEndpoint    = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
)

// Token kinds accepted by Revoke as the RFC 7009 token_type_hint.
const (
	TokenKindAccess  = "access_token"
	TokenKindRefresh = "refresh_token"
)

// TokenResponse is the token endpoint's response shape for both the
// authorization-code and refresh-token grants.
type TokenResponse struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	TokenType             string `json:"token_type"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshTokenExpiresIn int64  `json:"x_refresh_token_expires_in"`
}

// Client talks to Intuit's OAuth2 endpoints. Endpoints default to the
// production Intuit hosts and are overridable for tests.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthorizationEndpoint string
	TokenEndpoint         string
	RevocationEndpoint    string

	HTTPClient *http.Client
}

// NewClient creates an OAuth client with the default Intuit endpoints.
func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		RedirectURI:           redirectURI,
		AuthorizationEndpoint: DefaultAuthorizationEndpoint,
		TokenEndpoint:         DefaultTokenEndpoint,
		RevocationEndpoint:    DefaultRevocationEndpoint,
		HTTPClient:            http.DefaultClient,
	}
}

// AuthorizationURL builds the URL the user's browser is sent to for the
// consent screen. state is echoed back on the callback for CSRF checks.
func (c *Client) AuthorizationURL(scopes []string, state string) (string, error) {
	u, err := url.Parse(c.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Exchange trades an authorization code for bearer tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.RedirectURI)

	return c.postToken(ctx, data)
}

// Refresh trades a refresh token for a new token pair. Intuit rotates
// the refresh token on every grant, so callers must persist the response.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return c.postToken(ctx, data)
}

// Revoke invalidates a token at the issuer. kind is the RFC 7009
// token_type_hint (TokenKindAccess or TokenKindRefresh).
func (c *Client) Revoke(ctx context.Context, token, kind string) error {
	data := url.Values{}
	data.Set("token", token)
	if kind != "" {
		data.Set("token_type_hint", kind)
	}

	req, err := c.newFormRequest(ctx, c.RevocationEndpoint, data)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return wrapTransport(ctx, c.RevocationEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return qberrors.FromResponse(resp.StatusCode, c.RevocationEndpoint, string(body))
	}
	return nil
}

func (c *Client) postToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := c.newFormRequest(ctx, c.TokenEndpoint, data)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, wrapTransport(ctx, c.TokenEndpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, qberrors.ErrNetwork(c.TokenEndpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, qberrors.FromResponse(resp.StatusCode, c.TokenEndpoint, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, qberrors.ErrInternal("invalid token endpoint response", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, qberrors.ErrInternal("token endpoint returned no access token", nil)
	}

	return &tokenResp, nil
}

func (c *Client) newFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+c.basicAuth())
	return req, nil
}

// basicAuth returns the client credentials encoded per RFC 6749 §2.3.1.
func (c *Client) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.ClientSecret))
}

// wrapTransport classifies a round-trip failure, distinguishing caller
// cancellation and deadline expiry from connection-level faults.
func wrapTransport(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil {
		return qberrors.ErrTimeout(endpoint, err)
	}
	return qberrors.ErrNetwork(endpoint, err)
}
