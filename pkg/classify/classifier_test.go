package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := New(zerolog.Nop(), "opportunity_timeline")

	tests := []struct {
		name    string
		stream  string
		status  int
		body    string
		outcome Outcome
	}{
		{"error payload on non-skip-listed stream", "user", 200, `{"error": "invalid token"}`, Fatal},
		{"error payload on skip-listed stream", "opportunity_timeline", 200, `{"error": "invalid token"}`, Skippable},
		{"non-JSON body", "user", 200, `<html>Server Error</html>`, Fatal},
		{"non-JSON body on skip-listed stream", "opportunity_timeline", 200, `oops`, Fatal},
		{"empty body", "user", 200, ``, Fatal},
		{"trailing garbage", "user", 200, `{"id": 1} trailing`, Fatal},
		{"single object", "user", 200, `{"id": 1}`, Success},
		{"array of records", "user", 200, `[{"id": 1}, {"id": 2}]`, Success},
		{"empty array", "user", 200, `[]`, Success},
		{"falsy error field false", "user", 200, `{"error": false, "id": 1}`, Success},
		{"falsy error field null", "user", 200, `{"error": null}`, Success},
		{"falsy error field empty string", "user", 200, `{"error": ""}`, Success},
		{"falsy error field zero", "user", 200, `{"error": 0}`, Success},
		{"truthy error object", "user", 200, `{"error": {"code": 7}}`, Fatal},
		{"truthy error true", "user", 201, `{"error": true}`, Fatal},
		{"array containing error key is not an error", "user", 200, `[{"error": "x"}]`, Success},
		{"server error is never success", "user", 503, `{"id": 1}`, Fatal},
		{"client error is never success", "user", 404, `{"id": 1}`, Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(Response{
				StatusCode: tt.status,
				Path:       "/api/users",
				Body:       []byte(tt.body),
			}, tt.stream)

			assert.Equal(t, tt.outcome, res.Outcome)
			if tt.outcome == Success {
				assert.NoError(t, res.Err)
				assert.NotNil(t, res.Value)
			} else {
				assert.Error(t, res.Err)
			}
		})
	}
}

func TestClassify_ProtocolErrorDetails(t *testing.T) {
	c := New(zerolog.Nop())

	res := c.Classify(Response{
		StatusCode: 200,
		Status:     "OK",
		Path:       "/api/forms",
		Body:       []byte(`{"error": "invalid token"}`),
	}, "form")

	require.Equal(t, Fatal, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrProtocolAmbiguity))

	var perr *ProtocolError
	require.True(t, errors.As(res.Err, &perr))
	assert.Equal(t, "form", perr.Stream)
	assert.False(t, perr.Skippable)
	assert.Contains(t, perr.Error(), "200")
	assert.Contains(t, perr.Error(), "OK")
	assert.Contains(t, perr.Error(), "/api/forms")
	assert.Contains(t, perr.Error(), "invalid token")
}

func TestClassify_SkippableLogsDiagnostic(t *testing.T) {
	buf := &bytes.Buffer{}
	c := New(zerolog.New(buf), "opportunity_timeline")

	res := c.Classify(Response{
		StatusCode: 200,
		Path:       "/api/opportunities/9/timeline",
		Body:       []byte(`{"error": "not found"}`),
	}, "opportunity_timeline")

	require.Equal(t, Skippable, res.Outcome)

	var perr *ProtocolError
	require.True(t, errors.As(res.Err, &perr))
	assert.True(t, perr.Skippable)
	assert.Contains(t, buf.String(), "opportunity_timeline")
	assert.Contains(t, buf.String(), "/api/opportunities/9/timeline")
}

func TestClassify_PreservesNumbers(t *testing.T) {
	c := New(zerolog.Nop())

	res := c.Classify(Response{StatusCode: 200, Body: []byte(`{"id": 12345678901234567890}`)}, "user")
	require.Equal(t, Success, res.Outcome)

	obj := res.Value.(map[string]any)
	assert.Equal(t, json.Number("12345678901234567890"), obj["id"])
}

func TestSkips(t *testing.T) {
	c := New(zerolog.Nop(), "a", "b")
	assert.True(t, c.Skips("a"))
	assert.True(t, c.Skips("b"))
	assert.False(t, c.Skips("c"))
}
