package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"attackwatch/internal/config"
	"attackwatch/internal/model"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
	userAgent      = "attackwatch/1"
)

// ErrEmptyPayload is returned for payloads that carry no record ids.
var ErrEmptyPayload = errors.New("alert payload has no attack ids")

// SinkError describes a failed delivery. StatusCode is zero for transport errors.
type SinkError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SinkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("alert sink responded %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("alert sink request failed: %v", e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// HTTPSink posts alert payloads as JSON to the alert endpoint.
type HTTPSink struct {
	client *http.Client
	url    string
}

func NewHTTPSink(cfg config.SinkConfig) (*HTTPSink, error) {
	target := cfg.URL()
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid alert sink URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("alert sink URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("alert sink URL must include a host")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPSink{
		client: &http.Client{Timeout: timeout},
		url:    target,
	}, nil
}

func (s *HTTPSink) URL() string {
	return s.url
}

// Send delivers one payload. Any non-2xx response or transport failure is
// returned as a *SinkError.
func (s *HTTPSink) Send(ctx context.Context, payload model.AlertPayload) error {
	if len(payload.AttackIDs) == 0 {
		return &SinkError{Err: ErrEmptyPayload}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &SinkError{Err: fmt.Errorf("encode payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &SinkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return &SinkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &SinkError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
