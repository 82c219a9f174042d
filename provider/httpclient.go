package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 64 * 1024

// NewHTTPClient builds the HTTP client shared by the HTTP transports,
// honouring Timeout and ProxyURL.
func NewHTTPClient(cfg Config, defaultTimeout time.Duration) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// ReadErrorBody reads a bounded prefix of an error response body.
func ReadErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return strings.TrimSpace(string(data))
}

// SetHeaders applies extra configured headers to req.
func SetHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// ErrorParser extracts the provider's error type and message from an
// error response body. Either may be empty.
type ErrorParser func(body []byte) (name, message string)

// Call describes one JSON POST to a provider endpoint.
type Call struct {
	Provider string
	Model    string
	URL      string
	Header   http.Header
}

// PostJSON posts in as JSON and decodes a 2xx response into out.
//
// Failures before the request leaves the process (encoding, request
// construction, dial errors) are marked NotSent. Non-2xx responses become
// an *Error carrying the status and whatever parse extracts. A 2xx body
// that does not decode is reported as a bad gateway.
func PostJSON(ctx context.Context, client *http.Client, c Call, in, out any, parse ErrorParser) error {
	body, err := json.Marshal(in)
	if err != nil {
		return NotSent(c.Provider, c.Model, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return NotSent(c.Provider, c.Model, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if isDialError(err) {
			return NotSent(c.Provider, c.Model, err)
		}
		return &Error{Provider: c.Provider, Model: c.Model, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw := ReadErrorBody(resp.Body)
		name, msg := "", raw
		if parse != nil {
			if n, m := parse([]byte(raw)); n != "" || m != "" {
				name = n
				if m != "" {
					msg = m
				}
			}
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return NewStatusError(c.Provider, c.Model, resp.StatusCode, name, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Provider: c.Provider,
			Model:    c.Model,
			Status:   http.StatusBadGateway,
			Name:     "InvalidResponse",
			Message:  "decode response: " + err.Error(),
			Err:      err,
		}
	}
	return nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Empty reports an answer without text.
func Empty(provider, model, reason string) *Error {
	msg := "no text in response"
	if reason != "" {
		msg += " (" + reason + ")"
	}
	return &Error{Provider: provider, Model: model, Name: "EmptyResponse", Message: msg, Err: ErrEmptyResponse}
}
