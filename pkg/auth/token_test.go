package auth

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

const fixedNonce = "550e8400-e29b-41d4-a716-446655440000"

var fixedTime = time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)

func testCredentials(t *testing.T) *Credentials {
	t.Helper()
	creds, err := NewCredentials("test@example.com", "client456", "secret789", "clinic123")
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	return creds
}

func fixedSigner() *Signer {
	return NewSigner(
		WithClock(func() time.Time { return fixedTime }),
		WithNonce(func() string { return fixedNonce }),
	)
}

func TestSign_KnownVector(t *testing.T) {
	creds := testCredentials(t)

	token, err := fixedSigner().Sign(creds, nil, fixedTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	want := "test@example.com:client456:VHVlLCAwNSBNYXIgMjAyNCAxNDowNzowOSArMDAwMA==:clinic123:" +
		fixedNonce + ":ZDQxZDhjZDk4ZjAwYjIwNGU5ODAwOTk4ZWNmODQyN2U=:" +
		"RhJERINiYcdq1wLq2Z8YEMAyO40n9pwa9_Tleu9yGMezueI9GhYJtVE67HR_jEGJcb3DXPnf_qneFWS6yExd_Q=="

	if token.String() != want {
		t.Errorf("token = %q\nwant    %q", token.String(), want)
	}
	if token.Header() != "Digest "+want {
		t.Errorf("Header() = %q", token.Header())
	}
}

func TestSign_Deterministic(t *testing.T) {
	creds := testCredentials(t)
	signer := fixedSigner()

	a, err := signer.Sign(creds, []byte(`{"a":1}`), fixedTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	b, err := signer.Sign(creds, []byte(`{"a":1}`), fixedTime)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if a != b {
		t.Errorf("expected identical tokens, got %q and %q", a, b)
	}
}

func TestSign_FreshNonceEveryCall(t *testing.T) {
	creds := testCredentials(t)
	signer := NewSigner()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := signer.Sign(creds, nil, fixedTime)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		if seen[token.Seed.Nonce] {
			t.Fatalf("nonce %q reused", token.Seed.Nonce)
		}
		seen[token.Seed.Nonce] = true
	}
}

func TestSign_BodyDigest(t *testing.T) {
	creds := testCredentials(t)
	signer := fixedSigner()

	tests := []struct {
		name      string
		a, b      []byte
		wantEqual bool
	}{
		{"different bodies", []byte(`{"key": "value1"}`), []byte(`{"key": "value2"}`), false},
		{"equal bodies", []byte(`{"key": "value"}`), []byte(`{"key": "value"}`), true},
		{"nil and empty", nil, []byte{}, true},
		{"empty and non-empty", nil, []byte("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta, err := signer.Sign(creds, tt.a, fixedTime)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			tb, err := signer.Sign(creds, tt.b, fixedTime)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}

			if got := ta.Seed.BodyDigestB64 == tb.Seed.BodyDigestB64; got != tt.wantEqual {
				t.Errorf("digest equal = %v, want %v (%q vs %q)", got, tt.wantEqual,
					ta.Seed.BodyDigestB64, tb.Seed.BodyDigestB64)
			}
			if got := ta.Signature == tb.Signature; got != tt.wantEqual {
				t.Errorf("signature equal = %v, want %v", got, tt.wantEqual)
			}
		})
	}
}

func TestBodyDigest_KnownValue(t *testing.T) {
	got := BodyDigest([]byte(`{"key": "value"}`))
	want := "ODhiYWM5NWYzMTUyOGQxM2EwNzJjMDVmMmExY2YzNzE="
	if got != want {
		t.Errorf("BodyDigest() = %q, want %q", got, want)
	}
}

func TestSign_SevenSegmentsAndURLSafe(t *testing.T) {
	creds := testCredentials(t)
	signer := NewSigner()

	for i := 0; i < 200; i++ {
		body := []byte(strings.Repeat("payload", i))
		token, err := signer.Sign(creds, body, time.Now())
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}

		parts := strings.Split(token.String(), ":")
		if len(parts) != 7 {
			t.Fatalf("expected 7 segments, got %d: %q", len(parts), token.String())
		}
		for _, seg := range []string{parts[5], parts[6]} {
			if strings.ContainsAny(seg, "+/") {
				t.Fatalf("segment %q contains raw '+' or '/'", seg)
			}
		}
	}
}

func TestSign_MissingCredential(t *testing.T) {
	tests := []struct {
		name  string
		creds *Credentials
		field string
	}{
		{"nil", nil, "nil"},
		{"user_id", &Credentials{ClientID: "c", ClientSecret: "s", ClinicID: "k"}, "user_id"},
		{"client_id", &Credentials{UserID: "u", ClientSecret: "s", ClinicID: "k"}, "client_id"},
		{"client_secret", &Credentials{UserID: "u", ClientID: "c", ClinicID: "k"}, "client_secret"},
		{"clinic_id", &Credentials{UserID: "u", ClientID: "c", ClientSecret: "s"}, "clinic_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixedSigner().Sign(tt.creds, nil, fixedTime)
			if !errors.Is(err, ErrMissingCredential) {
				t.Fatalf("expected ErrMissingCredential, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %q", err, tt.field)
			}
		})
	}
}

func TestSign_EmptyNonce(t *testing.T) {
	signer := NewSigner(WithNonce(func() string { return "" }))
	_, err := signer.Sign(testCredentials(t), nil, fixedTime)
	if !errors.Is(err, ErrSigning) {
		t.Errorf("expected ErrSigning, got %v", err)
	}
}

func TestAuthorize_SetsHeaderAndPreservesBody(t *testing.T) {
	creds := testCredentials(t)
	body := `{"key": "value"}`

	req, err := http.NewRequest(http.MethodPost, "https://example.com/api/forms", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}

	if err := fixedSigner().Authorize(req, creds); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Digest ") {
		t.Fatalf("Authorization = %q", header)
	}
	if !strings.Contains(header, ":"+BodyDigest([]byte(body))+":") {
		t.Errorf("Authorization does not carry body digest: %q", header)
	}

	got, _ := io.ReadAll(req.Body)
	if string(got) != body {
		t.Errorf("body after Authorize = %q, want %q", got, body)
	}
}

func TestAuthorize_ReplacesPreviousToken(t *testing.T) {
	creds := testCredentials(t)
	signer := NewSigner()

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/api/users", nil)
	if err := signer.Authorize(req, creds); err != nil {
		t.Fatal(err)
	}
	first := req.Header.Get("Authorization")

	if err := signer.Authorize(req, creds); err != nil {
		t.Fatal(err)
	}
	second := req.Header.Get("Authorization")

	if first == second {
		t.Error("re-signing produced an identical token")
	}
	if len(req.Header.Values("Authorization")) != 1 {
		t.Errorf("expected exactly one Authorization header, got %d", len(req.Header.Values("Authorization")))
	}
}

func TestSign_Concurrent(t *testing.T) {
	creds := testCredentials(t)
	signer := NewSigner()

	var wg sync.WaitGroup
	var mu sync.Mutex
	nonces := make(map[string]bool)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := signer.Sign(creds, nil, time.Now())
			if err != nil {
				t.Errorf("Sign() error = %v", err)
				return
			}
			mu.Lock()
			nonces[token.Seed.Nonce] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(nonces) != 20 {
		t.Errorf("expected 20 distinct nonces, got %d", len(nonces))
	}
}

func TestCredentials_StringHidesSecret(t *testing.T) {
	creds := testCredentials(t)
	if strings.Contains(creds.String(), "secret789") {
		t.Errorf("String() leaks secret: %q", creds.String())
	}
}
