// Package auth manages the OAuth credential lifecycle for QuickBooks
// realms: deciding staleness, refreshing through the token endpoint, and
// committing refreshed records back to the credential store.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/timewarp/quickbooks-cli/internal/oauth"
	"github.com/timewarp/quickbooks-cli/internal/sdk"
	qberrors "github.com/timewarp/quickbooks-cli/internal/sdk/errors"
)

// TokenClient is the slice of the OAuth collaborator the Manager needs.
// *oauth.Client satisfies it.
type TokenClient interface {
	AuthorizationURL(scopes []string, state string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error)
	Revoke(ctx context.Context, token, kind string) error
}

// Options configures a Manager.
type Options struct {
	// Scopes requested during authorization.
	Scopes []string

	// RedirectURI registered with the Intuit app; the login flow listens
	// on its host:port for the browser callback.
	RedirectURI string

	// Logger for diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Manager owns credential staleness decisions and store writes. All
// reads and writes for one realm are serialized through a per-realm
// mutex, so at most one refresh is in flight per realm at a time.
type Manager struct {
	client TokenClient
	store  sdk.CredentialStore
	opts   Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager backed by the given OAuth client and
// credential store.
func NewManager(client TokenClient, store sdk.CredentialStore, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		client: client,
		store:  store,
		opts:   opts,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Store returns the underlying credential store.
func (m *Manager) Store() sdk.CredentialStore {
	return m.store
}

// realmLock returns the mutex guarding one realm's check-refresh-store
// sequence.
func (m *Manager) realmLock(realmID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[realmID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[realmID] = lock
	}
	return lock
}

// EnsureFresh returns valid credentials for the realm, refreshing them
// first when the access token is stale. A realm with no stored record
// fails immediately; the caller must re-authorize.
func (m *Manager) EnsureFresh(ctx context.Context, realmID string) (*sdk.Credentials, error) {
	lock := m.realmLock(realmID)
	lock.Lock()
	defer lock.Unlock()

	creds, err := m.store.Get(realmID)
	if err != nil {
		if sdk.IsNotFound(err) {
			return nil, qberrors.ErrCredentialsNotFound(realmID)
		}
		return nil, err
	}

	if !creds.IsAccessExpired(m.opts.Now()) {
		return creds, nil
	}

	m.opts.Logger.Info("access token expired, refreshing", "realm", realmID)
	return m.refreshLocked(ctx, creds)
}

// ForceRefresh refreshes the realm's credentials regardless of local
// expiry state. Used after the API rejects a token the local clock still
// considered valid.
func (m *Manager) ForceRefresh(ctx context.Context, realmID string) (*sdk.Credentials, error) {
	lock := m.realmLock(realmID)
	lock.Lock()
	defer lock.Unlock()

	creds, err := m.store.Get(realmID)
	if err != nil {
		if sdk.IsNotFound(err) {
			return nil, qberrors.ErrCredentialsNotFound(realmID)
		}
		return nil, err
	}

	m.opts.Logger.Info("forcing token refresh", "realm", realmID)
	return m.refreshLocked(ctx, creds)
}

// refreshLocked performs the refresh grant and commits the new record.
// The caller holds the realm lock. An expired refresh token is still
// attempted; the issuer's rejection is the error surfaced.
func (m *Manager) refreshLocked(ctx context.Context, creds *sdk.Credentials) (*sdk.Credentials, error) {
	tok, err := m.client.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return nil, err
	}

	refreshed := credentialsFromToken(creds.RealmID, tok, m.opts.Now())
	if err := m.store.Put(creds.RealmID, refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

// Revoke invalidates both tokens at the issuer, then removes the record
// from the store. Revocation failures propagate and leave the stored
// record in place.
func (m *Manager) Revoke(ctx context.Context, realmID string) error {
	lock := m.realmLock(realmID)
	lock.Lock()
	defer lock.Unlock()

	creds, err := m.store.Get(realmID)
	if err != nil {
		if sdk.IsNotFound(err) {
			return qberrors.ErrCredentialsNotFound(realmID)
		}
		return err
	}

	if err := m.client.Revoke(ctx, creds.AccessToken, oauth.TokenKindAccess); err != nil {
		return err
	}
	if err := m.client.Revoke(ctx, creds.RefreshToken, oauth.TokenKindRefresh); err != nil {
		return err
	}

	return m.store.Remove(realmID)
}

// Logout removes stored credentials for the realm without contacting
// the issuer.
func (m *Manager) Logout(realmID string) error {
	return m.store.Remove(realmID)
}

// AuthorizationURL builds the consent URL for the configured scopes.
func (m *Manager) AuthorizationURL(state string) (string, error) {
	return m.client.AuthorizationURL(m.opts.Scopes, state)
}

// CallbackResult carries the outcome of a completed OAuth callback.
type CallbackResult struct {
	Code        string
	State       string
	RealmID     string
	Credentials *sdk.Credentials
}

// HandleCallback verifies the callback state, exchanges the code for
// tokens, and stores the resulting record keyed by realm.
func (m *Manager) HandleCallback(ctx context.Context, code, state, realmID, expectedState string) (*CallbackResult, error) {
	if state != expectedState {
		return nil, qberrors.ErrUsage("state mismatch, possible CSRF attack")
	}
	if realmID == "" {
		return nil, qberrors.ErrUsage("callback did not include a realmId")
	}

	tok, err := m.client.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	creds := credentialsFromToken(realmID, tok, m.opts.Now())
	if err := m.store.Put(realmID, creds); err != nil {
		return nil, err
	}

	m.opts.Logger.Info("authorized realm", "realm", realmID)
	return &CallbackResult{
		Code:        code,
		State:       state,
		RealmID:     realmID,
		Credentials: creds,
	}, nil
}

// Validate checks that the OAuth configuration is complete enough to
// run a login flow.
func (m *Manager) Validate(clientID, clientSecret string) error {
	var missing []string
	if clientID == "" {
		missing = append(missing, "client_id")
	}
	if clientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if m.opts.RedirectURI == "" {
		missing = append(missing, "redirect_uri")
	}
	if len(m.opts.Scopes) == 0 {
		missing = append(missing, "scopes")
	}
	if len(missing) > 0 {
		msg := "incomplete OAuth configuration, missing:"
		for _, f := range missing {
			msg += " " + f
		}
		return qberrors.ErrUsage(msg)
	}
	return nil
}

// credentialsFromToken builds an immutable credential record from a
// token endpoint response, stamping the capture time. Intuit sends the
// token type as lowercase "bearer"; the stored form is the canonical
// "Bearer" used in the Authorization header.
func credentialsFromToken(realmID string, tok *oauth.TokenResponse, now time.Time) *sdk.Credentials {
	tokenType := tok.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "Bearer") {
		tokenType = "Bearer"
	}
	return &sdk.Credentials{
		RealmID:               realmID,
		AccessToken:           tok.AccessToken,
		RefreshToken:          tok.RefreshToken,
		TokenType:             tokenType,
		ExpiresIn:             tok.ExpiresIn,
		RefreshTokenExpiresIn: tok.RefreshTokenExpiresIn,
		IssuedAt:              now.UTC(),
	}
}

// generateState returns a random state value for CSRF protection.
func generateState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
