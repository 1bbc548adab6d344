// Package testutil provides testing utilities for the Sunwave tap.
package testutil

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // mirrors the upstream digest contract
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BasePath is the path prefix of the Sunwave API root.
const BasePath = "/SunwaveEMR"

// MockResponse defines the behavior for a mock Sunwave endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is one request seen by the mock.
type RecordedRequest struct {
	Path          string
	Page          string
	Authorization string
}

// MockSunwave is a configurable mock Sunwave server. It checks the Digest
// Authorization header of every request against the configured credentials
// and answers invalid tokens the way Sunwave does: HTTP 200 with an error body.
type MockSunwave struct {
	server *httptest.Server

	userID, clientID, secret, clinicID string

	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	prefixes map[string]http.HandlerFunc
	nonces   map[string]bool

	// Tracking
	Requests     []RecordedRequest
	AuthFailures int
	Replays      int
}

// NewMockSunwave creates a mock server accepting tokens for the given credentials.
func NewMockSunwave(userID, clientID, secret, clinicID string) *MockSunwave {
	mock := &MockSunwave{
		userID:   userID,
		clientID: clientID,
		secret:   secret,
		clinicID: clinicID,
		handlers: make(map[string]http.HandlerFunc),
		prefixes: make(map[string]http.HandlerFunc),
		nonces:   make(map[string]bool),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockSunwave) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, BasePath)
	header := r.Header.Get("Authorization")

	m.mu.Lock()
	m.Requests = append(m.Requests, RecordedRequest{
		Path:          path,
		Page:          r.URL.Query().Get("page"),
		Authorization: header,
	})
	ok, nonce := m.verify(header, body)
	if !ok {
		m.AuthFailures++
	} else if m.nonces[nonce] {
		m.Replays++
		ok = false
	} else {
		m.nonces[nonce] = true
	}
	m.mu.Unlock()

	if !strings.HasPrefix(r.URL.Path, BasePath+"/") {
		http.NotFound(w, r)
		return
	}

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"error": "invalid token"}`))
		return
	}

	if handler := m.lookup(path); handler != nil {
		handler(w, r)
		return
	}

	// Default handler
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`[]`))
}

// verify recomputes the signature of a "Digest seed:signature" header.
func (m *MockSunwave) verify(header string, body []byte) (bool, string) {
	token, found := strings.CutPrefix(header, "Digest ")
	if !found {
		return false, ""
	}
	parts := strings.Split(token, ":")
	if len(parts) != 7 {
		return false, ""
	}
	if parts[0] != m.userID || parts[1] != m.clientID || parts[3] != m.clinicID {
		return false, ""
	}

	sum := md5.Sum(body) //nolint:gosec
	digest := base64.URLEncoding.EncodeToString([]byte(hex.EncodeToString(sum[:])))
	if parts[5] != digest {
		return false, ""
	}

	mac := hmac.New(sha512.New, []byte(m.secret))
	mac.Write([]byte(strings.Join(parts[:6], ":")))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(parts[6]), []byte(want)) {
		return false, ""
	}
	return true, parts[4]
}

func (m *MockSunwave) lookup(path string) http.HandlerFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if h, ok := m.handlers[path]; ok {
		return h
	}

	// longest registered prefix wins
	prefixes := make([]string, 0, len(m.prefixes))
	for p := range m.prefixes {
		if strings.HasPrefix(path, p) {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return nil
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return m.prefixes[prefixes[0]]
}

// URL returns the API root, including BasePath.
func (m *MockSunwave) URL() string {
	return m.server.URL + BasePath
}

// Close shuts down the mock server.
func (m *MockSunwave) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSunwave) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = nil
	m.AuthFailures = 0
	m.Replays = 0
}

// SetHandler sets a custom handler for a path relative to BasePath.
func (m *MockSunwave) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetPrefixHandler handles every path starting with prefix, for paths that
// embed run-dependent dates.
func (m *MockSunwave) SetPrefixHandler(prefix string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes[prefix] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSunwave) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, resp.handler())
}

// SetPrefixResponse configures a simple response for a path prefix.
func (m *MockSunwave) SetPrefixResponse(prefix string, resp MockResponse) {
	m.SetPrefixHandler(prefix, resp.handler())
}

// SetPages serves bodies by the page query parameter: no parameter returns
// bodies[0], page=N returns bodies[N-1]. Bodies carry their own next_page.
func (m *MockSunwave) SetPages(path string, bodies ...string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		if p := r.URL.Query().Get("page"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 || n > len(bodies) {
				http.Error(w, "no such page", http.StatusNotFound)
				return
			}
			idx = n - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(bodies[idx]))
	})
}

func (resp MockResponse) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Add delay if specified
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		// Set headers
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		// Write status and body
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSunwave) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Requests)
}

// GetAuthFailures returns the number of requests with an invalid token.
func (m *MockSunwave) GetAuthFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.AuthFailures
}

// GetReplays returns the number of requests that reused a nonce.
func (m *MockSunwave) GetReplays() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Replays
}

// RequestedPaths returns the paths requested so far, in order.
func (m *MockSunwave) RequestedPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.Requests))
	for i, r := range m.Requests {
		out[i] = r.Path
	}
	return out
}

// NewJSONResponse creates a standard 200 OK JSON response.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewApplicationErrorResponse creates the 200-with-error-body response
// Sunwave uses to report failures.
func NewApplicationErrorResponse(message string) MockResponse {
	return NewJSONResponse(`{"error": "` + message + `"}`)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  retryAfter,
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
