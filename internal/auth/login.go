package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

// loginTimeout bounds how long the login flow waits for the browser
// callback before giving up.
const loginTimeout = 5 * time.Minute

// LoginOptions configures the interactive login flow.
type LoginOptions struct {
	NoBrowser bool // If true, don't auto-open the browser, just print the URL

	// Printf receives user-facing progress messages. Defaults to a no-op.
	Printf func(format string, args ...any)
}

type callbackParams struct {
	code    string
	realmID string
}

// Login runs the OAuth authorization-code flow: it starts a loopback
// callback server on the redirect URI's address, sends the user's
// browser to the consent screen, waits for Intuit to redirect back with
// code, state, and realmId, and exchanges the code for tokens.
func (m *Manager) Login(ctx context.Context, opts LoginOptions) (*CallbackResult, error) {
	printf := opts.Printf
	if printf == nil {
		printf = func(string, ...any) {}
	}

	redirect, err := url.Parse(m.opts.RedirectURI)
	if err != nil {
		return nil, qberrors.ErrUsage("invalid redirect_uri: " + m.opts.RedirectURI)
	}

	state := generateState()
	authURL, err := m.AuthorizationURL(state)
	if err != nil {
		return nil, err
	}

	params, err := m.waitForCallback(ctx, redirect, state, authURL, opts.NoBrowser, printf)
	if err != nil {
		return nil, err
	}

	return m.HandleCallback(ctx, params.code, state, params.realmID, state)
}

func (m *Manager) waitForCallback(
	ctx context.Context,
	redirect *url.URL,
	expectedState, authURL string,
	noBrowser bool,
	printf func(string, ...any),
) (callbackParams, error) {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", redirect.Host)
	if err != nil {
		return callbackParams{}, fmt.Errorf("failed to start callback server on %s: %w", redirect.Host, err)
	}
	defer func() { _ = listener.Close() }()

	paramsCh := make(chan callbackParams, 1)
	errCh := make(chan error, 1)

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if errParam := q.Get("error"); errParam != "" {
				errCh <- fmt.Errorf("authorization error: %s", errParam)
				fmt.Fprint(w, "<html><body><h1>Authorization failed</h1><p>You can close this window.</p></body></html>")
				return
			}
			if q.Get("state") != expectedState {
				errCh <- qberrors.ErrUsage("state mismatch, possible CSRF attack")
				fmt.Fprint(w, "<html><body><h1>Authorization failed</h1><p>State mismatch.</p></body></html>")
				return
			}

			paramsCh <- callbackParams{code: q.Get("code"), realmID: q.Get("realmId")}
			fmt.Fprint(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
		}),
	}

	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Close() }()

	if !noBrowser {
		if err := openBrowser(authURL); err != nil {
			printf("Couldn't open browser automatically.\nOpen this URL in your browser:\n%s\n\nWaiting for authorization...\n", authURL)
		} else {
			printf("Opening browser for QuickBooks authorization...\nIf the browser doesn't open, visit: %s\n\nWaiting for authorization...\n", authURL)
		}
	} else {
		printf("Open this URL in your browser:\n%s\n\nWaiting for authorization...\n", authURL)
	}

	select {
	case params := <-paramsCh:
		return params, nil
	case err := <-errCh:
		return callbackParams{}, err
	case <-ctx.Done():
		return callbackParams{}, ctx.Err()
	case <-time.After(loginTimeout):
		return callbackParams{}, fmt.Errorf("authorization timeout")
	}
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start() //nolint:gosec,noctx // G204: cmd is hardcoded per-platform; fire-and-forget
}
