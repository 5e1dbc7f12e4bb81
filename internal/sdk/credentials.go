// Package sdk provides the core types for the QuickBooks API access layer.
package sdk

import "time"

// expiryBuffer is subtracted from token lifetimes when judging expiry.
// A token judged valid locally can still be rejected by Intuit moments
// before its literal expiry; refreshing early avoids that window.
const expiryBuffer = 5 * time.Minute

// Credentials holds the OAuth tokens issued for one realm (company).
// A record is replaced wholesale on refresh, never mutated in place.
type Credentials struct {
	RealmID      string `json:"realm_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`

	// Lifetimes in seconds as declared by Intuit at issuance.
	ExpiresIn             int64 `json:"expires_in"`
	RefreshTokenExpiresIn int64 `json:"x_refresh_token_expires_in"`

	// IssuedAt is stamped by this client when the tokens are captured,
	// not reported by the issuer.
	IssuedAt time.Time `json:"issued_at"`
}

// AccessDeadline returns the instant the access token stops being
// usable, with the safety buffer applied.
func (c *Credentials) AccessDeadline() time.Time {
	return c.IssuedAt.Add(time.Duration(c.ExpiresIn)*time.Second - expiryBuffer)
}

// RefreshDeadline returns the instant the refresh token stops being
// usable, with the safety buffer applied.
func (c *Credentials) RefreshDeadline() time.Time {
	return c.IssuedAt.Add(time.Duration(c.RefreshTokenExpiresIn)*time.Second - expiryBuffer)
}

// IsAccessExpired reports whether the access token should be considered
// stale at the given instant, applying the safety buffer.
func (c *Credentials) IsAccessExpired(now time.Time) bool {
	return !now.Before(c.AccessDeadline())
}

// IsRefreshExpired reports whether the refresh token should be considered
// stale at the given instant. The lifecycle manager does not use this to
// gate refresh attempts; an expired refresh token is left to the issuer
// to reject.
func (c *Credentials) IsRefreshExpired(now time.Time) bool {
	return !now.Before(c.RefreshDeadline())
}
