// Package commands implements the CLI commands.
package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/timewarp/quickbooks-cli/internal/appctx"
	"github.com/timewarp/quickbooks-cli/internal/auth"
	"github.com/timewarp/quickbooks-cli/internal/output"
	"github.com/timewarp/quickbooks-cli/internal/sdk"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Manage QuickBooks OAuth2 authentication including login, logout, token refresh, and revocation.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
		newAuthRevokeCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with QuickBooks",
		Long: `Start the OAuth2 authorization flow.

A local listener on the configured redirect URI receives the browser
callback carrying the authorization code and realm ID. Requires
client_id and client_secret (QB_CLIENT_ID / QB_CLIENT_SECRET).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			if err := app.Auth.Validate(app.Config.ClientID, app.Config.ClientSecret); err != nil {
				return err
			}

			result, err := app.Auth.Login(cmd.Context(), auth.LoginOptions{
				NoBrowser: noBrowser,
				Printf: func(format string, args ...any) {
					fmt.Fprintf(cmd.ErrOrStderr(), format, args...)
				},
			})
			if err != nil {
				return err
			}

			return app.OK(map[string]any{
				"status":   "authenticated",
				"realm_id": result.RealmID,
			}, output.WithSummary("Authenticated for company %s", result.RealmID))
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long:  "Remove stored credentials for the selected realm without contacting Intuit. Use 'auth revoke' to also invalidate the tokens server-side.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			if err := app.Auth.Logout(realmID); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status":   "logged_out",
				"realm_id": realmID,
			}, output.WithSummary("Removed credentials for company %s", realmID))
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long:  "Display token status for the selected realm, including time to expiry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			creds, err := app.Auth.Store().Get(realmID)
			if err != nil {
				if sdk.IsNotFound(err) {
					return app.OK(map[string]any{
						"authenticated": false,
						"realm_id":      realmID,
						"environment":   app.Config.Environment,
					}, output.WithSummary("Not authenticated"))
				}
				return err
			}

			now := time.Now()
			status := map[string]any{
				"authenticated":    true,
				"realm_id":         realmID,
				"environment":      app.Config.Environment,
				"token_type":       creds.TokenType,
				"issued_at":        creds.IssuedAt.Format(time.RFC3339),
				"access_expired":   creds.IsAccessExpired(now),
				"refresh_expired":  creds.IsRefreshExpired(now),
				"access_expires":   creds.AccessDeadline().Format(time.RFC3339),
				"refresh_expires":  creds.RefreshDeadline().Format(time.RFC3339),
			}

			summary := "Authenticated"
			if creds.IsAccessExpired(now) {
				summary = "Authenticated (access token stale, will refresh on next request)"
			}
			if creds.IsRefreshExpired(now) {
				summary = "Refresh token expired; run: qb auth login"
			}

			return app.OK(status, output.WithSummary("%s", summary))
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token",
		Long:  "Force a refresh of the access token for the selected realm, regardless of expiry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			creds, err := app.Auth.ForceRefresh(cmd.Context(), realmID)
			if err != nil {
				return err
			}

			return app.OK(map[string]any{
				"status":         "refreshed",
				"realm_id":       realmID,
				"access_expires": creds.AccessDeadline().Format(time.RFC3339),
			}, output.WithSummary("Token refreshed for company %s", realmID))
		},
	}
}

func newAuthRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke",
		Short: "Revoke tokens with Intuit",
		Long:  "Revoke both the access and refresh token server-side, then remove the stored credentials. If revocation fails the credentials are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			realmID, err := app.RealmID()
			if err != nil {
				return err
			}

			if err := app.Auth.Revoke(cmd.Context(), realmID); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status":   "revoked",
				"realm_id": realmID,
			}, output.WithSummary("Tokens revoked for company %s", realmID))
		},
	}
}
