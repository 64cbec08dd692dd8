// Package proxy forwards a (possibly streaming) request to a chosen
// Ollama backend and streams its response back with minimal buffering
// (spec §4.3).
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Client issues proxied requests against a backend's base URL. It is
// deliberately thin: one *http.Client shared across all backends, mirroring
// the teacher's preference for a single long-lived client over one per
// upstream.
type Client struct {
	HTTP *http.Client
}

func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 0}} // streaming responses must not be time-capped
}

// Request describes one proxied call. Body is the raw JSON payload; fields
// are read and rewritten with gjson/sjson rather than fully decoded,
// mirroring the teacher's proxymanager.go request-rewriting path.
type Request struct {
	BackendURL string
	Path       string
	Method     string
	Body       []byte
}

// Response is either a single buffered JSON body (Stream == nil) or a
// live body reader the caller must copy chunk-by-chunk and Close (spec §4.3
// point 4: streaming paths are never buffered whole).
type Response struct {
	StatusCode int
	Header     http.Header
	Stream     io.ReadCloser // non-nil iff the request was streaming
	Body       []byte        // set iff Stream is nil
}

// Do issues req against its backend, rewriting the body's "model" key to
// model (the resolved, possibly prefix-substituted name) first (spec §4.3
// point 2).
func (c *Client) Do(ctx context.Context, req Request, model string) (*Response, error) {
	body := req.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	if model != "" {
		var err error
		body, err = sjson.SetBytes(body, "model", model)
		if err != nil {
			return nil, err
		}
	}

	streaming := true
	if res := gjson.GetBytes(body, "stream"); res.Exists() {
		streaming = res.Bool()
	}

	url := req.BackendURL + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if streaming {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Stream: resp.Body}, nil
	}

	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: buf}, nil
}

// BackendPath maps an inbound endpoint family to the path the backend
// actually exposes (spec §4.3 "Endpoint map").
func BackendPath(family string) (string, error) {
	switch family {
	case "chat":
		return "/api/chat", nil
	case "generate":
		return "/api/generate", nil
	case "embeddings":
		return "/api/embeddings", nil
	default:
		return "", fmt.Errorf("unknown endpoint family %q", family)
	}
}

// IsStreamingRequested inspects a raw request body for an explicit
// "stream": false, defaulting to true otherwise (Ollama's own default).
func IsStreamingRequested(body []byte) bool {
	if res := gjson.GetBytes(body, "stream"); res.Exists() {
		return res.Bool()
	}
	return true
}
