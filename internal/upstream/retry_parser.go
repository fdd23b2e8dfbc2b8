package upstream

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryInfo covers the error bodies of OpenAI-compatible gateways that carry
// a retry hint: a numeric retry_after, or Google-style details with retryDelay.
type retryInfo struct {
	Error struct {
		Message    string          `json:"message"`
		RetryAfter json.RawMessage `json:"retry_after"`
		Details    []struct {
			RetryDelay string            `json:"retryDelay"` // e.g. "3.5s"
			Metadata   map[string]string `json:"metadata"`
		} `json:"details"`
	} `json:"error"`
}

// ParseRetryDelay extracts a retry duration from a 429 response.
// It checks the Retry-After header first, then the JSON body.
// Returns 0 if no retry information is found.
// NOTE: This consumes and restores the response body if it needs to read it.
func ParseRetryDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if d := ParseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
		return d
	}

	if resp.Body == nil {
		return 0
	}
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return 0
	}
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var info retryInfo
	if err := json.Unmarshal(bodyBytes, &info); err != nil {
		return 0
	}
	if raw := strings.Trim(string(info.Error.RetryAfter), `"`); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	for _, detail := range info.Error.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil {
				return d
			}
		}
	}
	return 0
}

// ParseRetryAfter parses a Retry-After header value (seconds or HTTP date).
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
