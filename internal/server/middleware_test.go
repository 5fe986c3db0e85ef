package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def", "abc.def"},
		{"bearer abc", "abc"},
		{"Basic dXNlcjpwdw==", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/profile", http.NoBody)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, bearerToken(r), tt.header)
	}
}

func TestChannelToken_PrefersQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", http.NoBody)
	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-query", channelToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", channelToken(r))
}
