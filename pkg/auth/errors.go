package auth

import "errors"

var (
	// ErrMissingCredential is a configuration error: one of the four
	// credential fields is empty. It is fatal and raised before any network I/O.
	ErrMissingCredential = errors.New("missing credential")

	// ErrSigning indicates the token could not be produced.
	ErrSigning = errors.New("request signing failed")
)
