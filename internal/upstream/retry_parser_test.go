package upstream

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestParseRetryDelay(t *testing.T) {
	tests := []struct {
		name   string
		header string
		body   string
		want   time.Duration
	}{
		{name: "header seconds", header: "12", want: 12 * time.Second},
		{name: "numeric body", body: `{"error":{"message":"limited","retry_after":2.5}}`, want: 2500 * time.Millisecond},
		{name: "google details", body: `{"error":{"details":[{"retryDelay":"3s"}]}}`, want: 3 * time.Second},
		{name: "metadata", body: `{"error":{"details":[{"metadata":{"retryDelay":"1.5s"}}]}}`, want: 1500 * time.Millisecond},
		{name: "nothing", body: `{"error":{"message":"limited"}}`, want: 0},
		{name: "garbage", body: `not json`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}, Body: io.NopCloser(strings.NewReader(tt.body))}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			if got := ParseRetryDelay(resp); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			rest, _ := io.ReadAll(resp.Body)
			if tt.header == "" && string(rest) != tt.body {
				t.Fatalf("expected body restored, got %q", rest)
			}
		})
	}
}
