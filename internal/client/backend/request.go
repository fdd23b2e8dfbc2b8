// Package backend is the HTTP client for the assistant server's row API and functions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/upstream"
	"go.uber.org/zap"
)

// APIError represents a non-2xx server response.
type APIError struct {
	Status     int
	Message    string
	Code       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// KindForStatus maps an HTTP status onto the notice taxonomy.
func KindForStatus(status int) notice.Kind {
	switch status {
	case http.StatusUnauthorized:
		return notice.AuthenticationRequired
	case http.StatusTooManyRequests:
		return notice.RateLimited
	case http.StatusPaymentRequired:
		return notice.PaymentRequired
	default:
		return notice.NetworkOrServerError
	}
}

// requestTimeout bounds JSON round trips. Streams are bounded only by the caller's context.
const requestTimeout = 30 * time.Second

// Requester performs JSON requests against the server.
type Requester struct {
	baseURL    string
	httpClient *http.Client
}

// NewRequester creates a requester. A nil httpClient selects http.DefaultClient.
func NewRequester(baseURL string, httpClient *http.Client) *Requester {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Requester{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

// BaseURL is the server root.
func (r *Requester) BaseURL() string {
	return r.baseURL
}

// HTTPClient is the underlying client.
func (r *Requester) HTTPClient() *http.Client {
	return r.httpClient
}

// DoJSON sends payload (if any) and decodes the response into out (if any).
// Failures are tagged with a notice.Kind.
func (r *Requester) DoJSON(ctx context.Context, method, path, token string, payload, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resp, err := r.Open(ctx, method, path, token, payload, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return notice.Wrap(notice.DecodeError, method+" "+path, err)
	}
	return nil
}

// Open sends the request and returns the 2xx response for the caller to read.
func (r *Requester) Open(ctx context.Context, method, path, token string, payload interface{}, accept string) (*http.Response, error) {
	op := method + " " + path
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := logging.GetRequestID(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, notice.Wrap(notice.NetworkOrServerError, op, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := decodeAPIError(resp)
		resp.Body.Close()
		logging.L().Debug("⚠️ Server error response", zap.String("op", op), zap.Int("status", apiErr.Status), zap.String("message", apiErr.Message))
		return nil, notice.Wrap(KindForStatus(apiErr.Status), op, apiErr)
	}
	return resp, nil
}

// decodeAPIError understands both {"error":{"message","type"}} and the
// RFC 6749 {"error","error_description"} envelopes.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		Status:     resp.StatusCode,
		RetryAfter: upstream.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var envelope struct {
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Error) > 0 {
		var code string
		if json.Unmarshal(envelope.Error, &code) == nil {
			apiErr.Code = code
			apiErr.Message = envelope.ErrorDescription
		} else {
			var detail struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			}
			if json.Unmarshal(envelope.Error, &detail) == nil {
				apiErr.Message = detail.Message
				apiErr.Code = detail.Type
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(http.StatusText(resp.StatusCode))
	}
	return apiErr
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
