package models

import "time"

// Credential is a bearer credential obtained from the authorization server.
// At most one live Credential exists per session key; it is only ever
// persisted through the platform secret facility, never to plain files.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer,omitempty"`
}

// DefaultExpirySkew is the margin used when deciding whether a credential is
// close enough to expiry to need a refresh. It absorbs clock skew and the
// network latency of the call the credential is about to authorize.
const DefaultExpirySkew = 30 * time.Second

// ExpiresWithin reports whether the credential expires inside the given
// margin from now. Credentials without an expiry never expire.
func (c *Credential) ExpiresWithin(margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(c.ExpiresAt)
}

// Expired reports whether the credential is expired under the default skew.
func (c *Credential) Expired() bool {
	return c.ExpiresWithin(DefaultExpirySkew)
}

// BearerHeader returns the Authorization header value for this credential.
func (c *Credential) BearerHeader() string {
	return "Bearer " + c.AccessToken
}
