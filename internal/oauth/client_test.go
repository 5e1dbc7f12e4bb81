package oauth

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

func newTestClient(tokenURL, revokeURL string) *Client {
	c := NewClient("test-client-id", "test-client-secret", "http://127.0.0.1:8442/callback")
	c.TokenEndpoint = tokenURL
	c.RevocationEndpoint = revokeURL
	return c
}

func TestAuthorizationURL(t *testing.T) {
	c := NewClient("test-client-id", "secret", "http://127.0.0.1:8442/callback")

	raw, err := c.AuthorizationURL([]string{"com.intuit.quickbooks.accounting", "openid"}, "state-123")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "test-client-id", q.Get("client_id"))
	assert.Equal(t, "http://127.0.0.1:8442/callback", q.Get("redirect_uri"))
	assert.Equal(t, "com.intuit.quickbooks.accounting openid", q.Get("scope"))
	assert.Equal(t, "state-123", q.Get("state"))
}

func TestExchange(t *testing.T) {
	var gotForm url.Values
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "new-access",
			"refresh_token": "new-refresh",
			"token_type": "bearer",
			"expires_in": 3600,
			"x_refresh_token_expires_in": 8726400
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)

	tok, err := c.Exchange(context.Background(), "auth-code-1")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "auth-code-1", gotForm.Get("code"))
	assert.Equal(t, "http://127.0.0.1:8442/callback", gotForm.Get("redirect_uri"))

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("test-client-id:test-client-secret"))
	assert.Equal(t, wantAuth, gotAuth)

	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
	assert.Equal(t, int64(3600), tok.ExpiresIn)
	assert.Equal(t, int64(8726400), tok.RefreshTokenExpiresIn)
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))

		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)

	tok, err := c.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok.AccessToken)
	assert.Equal(t, "r2", tok.RefreshToken)
}

func TestRefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)

	_, err := c.Refresh(context.Background(), "revoked-refresh")
	var apiErr *qberrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.HTTPStatus)
	assert.Equal(t, `{"error":"invalid_grant"}`, apiErr.ResponseBody)
}

func TestRevoke(t *testing.T) {
	var gotForm url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)

	require.NoError(t, c.Revoke(context.Background(), "some-token", TokenKindRefresh))
	assert.Equal(t, "some-token", gotForm.Get("token"))
	assert.Equal(t, "refresh_token", gotForm.Get("token_type_hint"))
}

func TestRevokeFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)

	err := c.Revoke(context.Background(), "bad-token", TokenKindAccess)
	var apiErr *qberrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.HTTPStatus)
}

func TestExchangeTransportFailure(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", "http://127.0.0.1:1")

	_, err := c.Exchange(context.Background(), "code")
	var apiErr *qberrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, qberrors.CodeNetwork, apiErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.HTTPStatus)
}

func TestExchangeRespectsContext(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		// The server only watches for client disconnect once the
		// request body has been consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Exchange(ctx, "code")
	<-started

	var apiErr *qberrors.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, qberrors.CodeTimeout, apiErr.Code)
	assert.Equal(t, http.StatusRequestTimeout, apiErr.HTTPStatus)
}

func TestPostTokenRejectsEmptyAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token_type":"bearer"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL)

	_, err := c.Exchange(context.Background(), "code")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no access token"))
}
