package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewarp/quickbooks-cli/internal/api"
	"github.com/timewarp/quickbooks-cli/internal/appctx"
	"github.com/timewarp/quickbooks-cli/internal/auth"
	"github.com/timewarp/quickbooks-cli/internal/config"
	"github.com/timewarp/quickbooks-cli/internal/oauth"
	"github.com/timewarp/quickbooks-cli/internal/output"
	"github.com/timewarp/quickbooks-cli/internal/sdk"
)

const testRealm = "9130347"

// noopOAuth satisfies the token client without network access.
type noopOAuth struct{}

func (noopOAuth) AuthorizationURL(scopes []string, state string) (string, error) {
	return "https://appcenter.intuit.com/connect/oauth2", nil
}
func (noopOAuth) Exchange(ctx context.Context, code string) (*oauth.TokenResponse, error) {
	return nil, nil
}
func (noopOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error) {
	return &oauth.TokenResponse{AccessToken: "refreshed", RefreshToken: "r", ExpiresIn: 3600}, nil
}
func (noopOAuth) Revoke(ctx context.Context, token, kind string) error { return nil }

// newTestApp wires an App against srv with stored credentials and a
// buffered output writer.
func newTestApp(t *testing.T, srv *httptest.Server) (*appctx.App, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.RealmID = testRealm
	if srv != nil {
		cfg.SandboxBaseURL = srv.URL
	}
	cfg.TimeoutSeconds = 5

	store := sdk.NewMemoryStore()
	require.NoError(t, store.Put(testRealm, &sdk.Credentials{
		RealmID:     testRealm,
		AccessToken: "tok",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		IssuedAt:    time.Now().UTC(),
	}))

	mgr := auth.NewManager(noopOAuth{}, store, auth.Options{})

	var buf bytes.Buffer
	w, err := output.New(output.Options{Writer: &buf, ErrOut: &buf})
	require.NoError(t, err)

	return &appctx.App{
		Config: cfg,
		Auth:   mgr,
		Client: api.NewClient(cfg, mgr),
		Output: w,
	}, &buf
}

// run executes a command with the app installed in its context.
func run(t *testing.T, app *appctx.App, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(bytes.NewBuffer(nil))
	cmd.SetErr(bytes.NewBuffer(nil))
	return cmd.ExecuteContext(appctx.WithApp(context.Background(), app))
}

func decodeEnvelope(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env))
	return env
}

func TestQueryCommandJoinsArgs(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		_, _ = w.Write([]byte(`{"QueryResponse": {"Customer": []}}`))
	}))
	defer srv.Close()

	app, buf := newTestApp(t, srv)
	require.NoError(t, run(t, app, NewQueryCmd(), "SELECT", "*", "FROM", "Customer"))

	assert.Equal(t, "SELECT * FROM Customer", gotQuery)
	env := decodeEnvelope(t, buf)
	assert.Equal(t, true, env["ok"])
}

func TestAPIGetCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Customer": {"Id": "7"}}`))
	}))
	defer srv.Close()

	app, buf := newTestApp(t, srv)
	require.NoError(t, run(t, app, NewAPICmd(), "get", "customer/7"))

	env := decodeEnvelope(t, buf)
	data := env["data"].(map[string]any)
	assert.Equal(t, "7", data["Customer"].(map[string]any)["Id"])
	assert.Equal(t, "GET customer/7", env["summary"])
}

func TestAPIPostCommandSendsBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"Customer": {"Id": "99"}}`))
	}))
	defer srv.Close()

	app, _ := newTestApp(t, srv)
	require.NoError(t, run(t, app, NewAPICmd(), "post", "customer", "--data", `{"DisplayName": "Acme"}`))

	assert.Equal(t, "Acme", gotBody["DisplayName"])
}

func TestAPIDeleteCommandEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	app, buf := newTestApp(t, srv)
	require.NoError(t, run(t, app, NewAPICmd(), "delete", "customer/7"))

	env := decodeEnvelope(t, buf)
	assert.Equal(t, map[string]any{}, env["data"])
}

func TestReadBody(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		body, err := readBody(`{"a": 1}`, nil)
		require.NoError(t, err)
		assert.Equal(t, float64(1), body.(map[string]any)["a"])
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "body.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"b": true}`), 0600))

		body, err := readBody("@"+path, nil)
		require.NoError(t, err)
		assert.Equal(t, true, body.(map[string]any)["b"])
	})

	t.Run("stdin", func(t *testing.T) {
		body, err := readBody("-", bytes.NewReader([]byte(`[1, 2]`)))
		require.NoError(t, err)
		assert.Len(t, body, 2)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := readBody(`{not json`, nil)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readBody("@/no/such/file.json", nil)
		assert.Error(t, err)
	})
}

func TestAuthStatusAuthenticated(t *testing.T) {
	app, buf := newTestApp(t, nil)
	require.NoError(t, run(t, app, NewAuthCmd(), "status"))

	env := decodeEnvelope(t, buf)
	data := env["data"].(map[string]any)
	assert.Equal(t, true, data["authenticated"])
	assert.Equal(t, testRealm, data["realm_id"])
	assert.Equal(t, false, data["access_expired"])
}

func TestAuthStatusNotAuthenticated(t *testing.T) {
	app, buf := newTestApp(t, nil)
	require.NoError(t, app.Auth.Store().Remove(testRealm))

	require.NoError(t, run(t, app, NewAuthCmd(), "status"))

	env := decodeEnvelope(t, buf)
	data := env["data"].(map[string]any)
	assert.Equal(t, false, data["authenticated"])
}

func TestAuthLogoutRemovesCredentials(t *testing.T) {
	app, buf := newTestApp(t, nil)
	require.NoError(t, run(t, app, NewAuthCmd(), "logout"))

	env := decodeEnvelope(t, buf)
	assert.Equal(t, true, env["ok"])

	_, err := app.Auth.Store().Get(testRealm)
	assert.Error(t, err)
}

func TestAuthRefreshForcesNewToken(t *testing.T) {
	app, buf := newTestApp(t, nil)
	require.NoError(t, run(t, app, NewAuthCmd(), "refresh"))

	env := decodeEnvelope(t, buf)
	data := env["data"].(map[string]any)
	assert.Equal(t, "refreshed", data["status"])

	creds, err := app.Auth.Store().Get(testRealm)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", creds.AccessToken)
}

func TestCommandsRequireRealm(t *testing.T) {
	app, _ := newTestApp(t, nil)
	app.Config.RealmID = ""

	err := run(t, app, NewCompanyCmd())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no realm selected")
}

func TestConfigSetAndGet(t *testing.T) {
	t.Setenv("QB_CONFIG_DIR", t.TempDir())

	app, buf := newTestApp(t, nil)
	require.NoError(t, run(t, app, NewConfigCmd(), "set", "minor_version", "70"))
	buf.Reset()

	// Reload so the get sees the persisted value.
	cfg, err := config.Load(config.FlagOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "70", cfg.MinorVersion)

	app.Config = cfg
	require.NoError(t, run(t, app, NewConfigCmd(), "get", "minor_version"))
	env := decodeEnvelope(t, buf)
	assert.Equal(t, "70", env["data"].(map[string]any)["minor_version"])
}

func TestConfigSetDoesNotPersistEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QB_CONFIG_DIR", dir)
	t.Setenv("QB_ENVIRONMENT", "production")

	app, _ := newTestApp(t, nil)
	require.NoError(t, run(t, app, NewConfigCmd(), "set", "realm_id", "9341000000000001"))

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	var saved map[string]any
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "9341000000000001", saved["realm_id"])
	assert.Equal(t, config.EnvSandbox, saved["environment"], "env-sourced environment must not be written to disk")
}

func TestConfigSetRejectsSecret(t *testing.T) {
	t.Setenv("QB_CONFIG_DIR", t.TempDir())

	app, _ := newTestApp(t, nil)
	err := run(t, app, NewConfigCmd(), "set", "client_secret", "hunter2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QB_CLIENT_SECRET")
}

func TestConfigSetRejectsBadEnvironment(t *testing.T) {
	t.Setenv("QB_CONFIG_DIR", t.TempDir())

	app, _ := newTestApp(t, nil)
	err := run(t, app, NewConfigCmd(), "set", "environment", "staging")
	assert.Error(t, err)
}
