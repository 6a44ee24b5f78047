package target

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/relaydev/chatrelay/internal/message"
)

// HTTPPostback mirrors payloads by POSTing (or another configured method)
// payload.ToWire() to a URL. Success is any HTTP 2xx/3xx response.
type HTTPPostback struct {
	baseTarget
	url     string
	method  string
	client  *http.Client
	headers map[string]string
}

// NewHTTPPostback constructs an HTTP postback target. method defaults to
// POST if empty; timeout defaults to 10s per §5's per-target connection
// timeout default.
func NewHTTPPostback(url, method string, headers map[string]string, timeout time.Duration) *HTTPPostback {
	if method == "" {
		method = http.MethodPost
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := &HTTPPostback{
		url:     url,
		method:  method,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
	if url == "" {
		t.errMsg = "target: http postback requires a url"
	} else {
		t.valid = true
	}
	return t
}

func (t *HTTPPostback) Type() string { return "http" }

func (t *HTTPPostback) Send(payload *message.Payload) (bool, string) {
	wire, err := payload.ToWire()
	if err != nil {
		return false, fmt.Sprintf("target: serialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, t.method, t.url, bytes.NewReader(wire))
	if err != nil {
		return false, fmt.Sprintf("target: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("target: request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return true, ""
	}
	return false, fmt.Sprintf("target: unexpected status %d", resp.StatusCode)
}
