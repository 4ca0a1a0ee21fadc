// Package remote implements extraction.Extractor against an HTTP extraction
// service exposing POST /v1/extract.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/papercomputeco/memwal/pkg/extraction"
	"github.com/papercomputeco/memwal/pkg/wal"
)

const (
	// DefaultBaseURL is the default extraction service URL.
	DefaultBaseURL = "http://localhost:9090"

	// DefaultTimeout bounds one extraction call.
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for the remote extractor.
type Config struct {
	// BaseURL is the service URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

// Extractor calls the extraction service over HTTP.
type Extractor struct {
	baseURL    string
	httpClient *http.Client
}

// NewExtractor creates a remote extractor.
func NewExtractor(cfg Config) (*Extractor, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Extractor{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Extract sends the interaction and classifies any failure. Network errors,
// timeouts, 408, 429 and 5xx are transient; other 4xx mean the service
// rejected the input and are permanent.
func (e *Extractor) Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, wal.PermanentError(fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/extract", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", extraction.ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", extraction.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{Code: resp.StatusCode, Body: string(body)}
		if statusErr.Retryable() {
			return nil, fmt.Errorf("%w: %w", extraction.ErrUnavailable, statusErr)
		}
		return nil, wal.PermanentError(statusErr)
	}

	var result extraction.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", extraction.ErrUnavailable, err)
	}
	return &result, nil
}

// Close releases resources held by the extractor.
func (e *Extractor) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// StatusError is a non-200 response from the extraction service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("extraction service returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests ||
		e.Code >= 500
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

var _ extraction.Extractor = (*Extractor)(nil)
