package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // required by the upstream digest contract
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TimestampLayout is the civil time layout embedded (base64 encoded) in every seed.
const TimestampLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// HeaderPrefix precedes the token in the Authorization header.
const HeaderPrefix = "Digest "

const seedSeparator = ":"

var tokensSigned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sunwave_tokens_signed_total",
	Help: "Total number of digest tokens generated",
})

var urlSafe = strings.NewReplacer("+", "-", "/", "_")

// RequestSeed is the transmitted and signed part of a token. It is rebuilt
// for every signing operation.
type RequestSeed struct {
	UserID        string
	ClientID      string
	TimestampB64  string
	ClinicID      string
	Nonce         string
	BodyDigestB64 string
}

// String joins the seed fields with ':'.
func (s RequestSeed) String() string {
	return strings.Join([]string{
		s.UserID,
		s.ClientID,
		s.TimestampB64,
		s.ClinicID,
		s.Nonce,
		s.BodyDigestB64,
	}, seedSeparator)
}

// DigestToken is a signed seed. It authenticates exactly one request attempt.
type DigestToken struct {
	Seed      RequestSeed
	Signature string
}

// String returns "seed:signature".
func (t DigestToken) String() string {
	return t.Seed.String() + seedSeparator + t.Signature
}

// Header returns the Authorization header value.
func (t DigestToken) Header() string {
	return HeaderPrefix + t.String()
}

// Signer produces digest tokens. It holds no mutable state and is safe for
// concurrent use; the clock and nonce source are only replaced in tests.
type Signer struct {
	now   func() time.Time
	nonce func() string
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the wall clock used by Authorize.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithNonce overrides the nonce source.
func WithNonce(nonce func() string) Option {
	return func(s *Signer) { s.nonce = nonce }
}

// NewSigner creates a Signer using UTC wall-clock time and random UUIDv4 nonces.
func NewSigner(opts ...Option) *Signer {
	s := &Signer{
		now:   func() time.Time { return time.Now().UTC() },
		nonce: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign builds the token for body at time now. A nil body is digested as the
// empty byte string.
func (s *Signer) Sign(creds *Credentials, body []byte, now time.Time) (DigestToken, error) {
	if err := creds.Validate(); err != nil {
		return DigestToken{}, err
	}

	nonce := s.nonce()
	if nonce == "" {
		return DigestToken{}, fmt.Errorf("%w: empty nonce", ErrSigning)
	}

	seed := RequestSeed{
		UserID:        creds.UserID,
		ClientID:      creds.ClientID,
		TimestampB64:  EncodeTimestamp(now),
		ClinicID:      creds.ClinicID,
		Nonce:         nonce,
		BodyDigestB64: BodyDigest(body),
	}

	mac := hmac.New(sha512.New, []byte(creds.ClientSecret))
	if _, err := mac.Write([]byte(seed.String())); err != nil {
		return DigestToken{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	tokensSigned.Inc()

	return DigestToken{
		Seed:      seed,
		Signature: urlSafe.Replace(base64.StdEncoding.EncodeToString(mac.Sum(nil))),
	}, nil
}

// Authorize signs req with a fresh token and sets its Authorization header.
// The body is read and restored so the request can still be sent.
func (s *Signer) Authorize(req *http.Request, creds *Credentials) error {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("%w: read body: %v", ErrSigning, err)
		}
		req.Body.Close()
		body = b
		req.Body = io.NopCloser(bytes.NewReader(b))
	}

	token, err := s.Sign(creds, body, s.now())
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", token.Header())
	return nil
}

// EncodeTimestamp formats now in UTC with TimestampLayout and base64 encodes it.
func EncodeTimestamp(now time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(now.UTC().Format(TimestampLayout)))
}

// BodyDigest returns base64(hex(md5(body))) with the URL-safe substitution.
func BodyDigest(body []byte) string {
	sum := md5.Sum(body) //nolint:gosec
	hexSum := hex.EncodeToString(sum[:])
	return urlSafe.Replace(base64.StdEncoding.EncodeToString([]byte(hexSum)))
}
