// Package httpjson holds the request plumbing shared by the REST adapters.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

// DefaultTimeout is used by NewClient when timeout is zero.
const DefaultTimeout = 10 * time.Second

// NewClient returns an http.Client with the given timeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Service + " api returned status: " + http.StatusText(e.Status)
	}
	return e.Service + " api returned status: " + http.StatusText(e.Status) + ": " + e.Body
}

// Is lets 429 responses match domain.ErrRateLimited.
func (e *StatusError) Is(target error) bool {
	return target == domain.ErrRateLimited && e.Status == http.StatusTooManyRequests
}

// Get issues a GET with headers and decodes the JSON body into out.
func Get(ctx context.Context, client *http.Client, service, url string, headers map[string]string, out any) error {
	return Do(ctx, client, service, http.MethodGet, url, headers, nil, out)
}

// Post sends body as JSON and decodes the JSON reply into out.
func Post(ctx context.Context, client *http.Client, service, url string, headers map[string]string, body, out any) error {
	return Do(ctx, client, service, http.MethodPost, url, headers, body, out)
}

// Do performs a JSON request. A nil out discards the response body.
func Do(ctx context.Context, client *http.Client, service, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s: encode request", service)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.Wrapf(err, "%s: build request", service)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s: request", service)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Service: service, Status: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s: decode response", service)
	}
	return nil
}
