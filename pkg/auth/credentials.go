// Package auth implements the Sunwave digest authentication scheme.
//
// Every outgoing request carries an Authorization header of the form
//
//	Digest <user_id>:<client_id>:<timestamp_b64>:<clinic_id>:<nonce>:<body_md5_b64>:<signature>
//
// where the signature is an HMAC-SHA512 over the first six fields keyed by
// the client secret. Tokens are bound to the request body and to the moment
// of signing, so a token must be computed for every send attempt.
package auth

import (
	"fmt"
)

// Credentials identifies the API caller. A single value is loaded at startup
// and shared read-only by every stream; it is never copied per stream.
type Credentials struct {
	UserID       string
	ClientID     string
	ClientSecret string
	ClinicID     string
}

// NewCredentials builds a validated Credentials value.
func NewCredentials(userID, clientID, clientSecret, clinicID string) (*Credentials, error) {
	c := &Credentials{
		UserID:       userID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ClinicID:     clinicID,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports the first missing field as ErrMissingCredential.
func (c *Credentials) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: credentials are nil", ErrMissingCredential)
	}

	fields := []struct {
		name  string
		value string
	}{
		{"user_id", c.UserID},
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"clinic_id", c.ClinicID},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingCredential, f.name)
		}
	}
	return nil
}

// String hides the secret so credentials can be logged safely.
func (c *Credentials) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("user=%s client=%s clinic=%s secret=****", c.UserID, c.ClientID, c.ClinicID)
}
