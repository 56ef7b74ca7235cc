package resilience

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, 404, ErrorCode(Codef(404, "missing")))
	assert.Equal(t, 0, ErrorCode(eris.New("plain")))
	assert.Equal(t, 0, ErrorCode(nil))
}

func TestErrorCode_SurvivesWrapping(t *testing.T) {
	inner := Codef(422, "bad field")
	wrapped := eris.Wrap(inner, "registry: load schema")
	assert.Equal(t, 422, ErrorCode(wrapped))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"coded 400", Codef(400, "bad request"), false},
		{"coded 404", Codef(404, "not found"), false},
		{"coded 499", Codef(499, "client closed"), false},
		{"coded 500", Codef(500, "internal"), true},
		{"coded 502", Codef(502, "bad gateway"), true},
		{"wrapped 403", eris.Wrap(Codef(403, "forbidden"), "api: fetch"), false},
		{"wrapped 503", eris.Wrap(Codef(503, "unavailable"), "api: fetch"), true},
		{"unclassified", eris.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestCodeFromHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, CodeFromHTTPStatus(400))
	assert.Equal(t, 404, CodeFromHTTPStatus(404))
	assert.Equal(t, 422, CodeFromHTTPStatus(422))
	// Retry-worthy client statuses map to a retryable server code.
	assert.Equal(t, 502, CodeFromHTTPStatus(408))
	assert.Equal(t, 502, CodeFromHTTPStatus(429))
	assert.Equal(t, 502, CodeFromHTTPStatus(500))
	assert.Equal(t, 502, CodeFromHTTPStatus(503))
	assert.Equal(t, 502, CodeFromHTTPStatus(302))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(eris.New("context deadline exceeded")))
	assert.True(t, IsTimeout(eris.New("request timed out")))
	assert.False(t, IsTimeout(eris.New("permission denied")))
	assert.False(t, IsTimeout(nil))
}

func TestIsTransientNetwork(t *testing.T) {
	assert.True(t, IsTransientNetwork(eris.New("read: connection reset by peer")))
	assert.True(t, IsTransientNetwork(eris.New("dial tcp: lookup api.example.com: no such host")))
	assert.False(t, IsTransientNetwork(eris.New("invalid payload")))
	assert.False(t, IsTransientNetwork(nil))
}
