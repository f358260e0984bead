// Package transport implements the network paths used to reach snodes.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swarmd/swarmd/snode"
)

// maxBodySize bounds the response body read from a node.
const maxBodySize = 16 << 20

// HTTPTransport posts JSON-RPC requests directly to snodes and seed nodes.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with a per-request timeout.
// Snodes present self-signed certificates, so insecure skips verification
// for node addresses.
func NewHTTPTransport(timeout time.Duration, insecure bool) *HTTPTransport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout, Transport: tr},
	}
}

func (t *HTTPTransport) String() string {
	return "http-transport"
}

func (t *HTTPTransport) Post(ctx context.Context, url string, payload any) (snode.RawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", snode.ErrTransport, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", snode.ErrTransport, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &snode.StatusError{StatusCode: res.StatusCode, Body: raw}
	}
	return raw, nil
}
