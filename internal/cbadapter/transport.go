package cbadapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 4 << 20

// Request is one HTTP exchange with the context broker.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the broker answer.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport sends requests to the broker. Connection reuse, TLS and socket-level
// retries are its concern.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// HTTPTransport is a Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport constructs a transport; timeout <= 0 means 10s.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, r Request) (Response, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return Response{}, err
	}
	for k, values := range r.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: resp.StatusCode, Body: payload}, nil
}
