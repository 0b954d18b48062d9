package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped on every hop, same set the teacher's
// forwarder.go uses.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// newUpstreamTransport forces HTTP/1.1 to upstream — the parser's
// incremental SSE framing assumes one TCP/TLS stream per request, and
// negotiating h2 would hand multiplexing (and its own independent framing)
// to net/http in a way the tee step doesn't need.
func newUpstreamTransport() *http.Transport {
	return &http.Transport{
		ForceAttemptHTTP2: false,
		TLSClientConfig:   &tls.Config{NextProtos: []string{"http/1.1"}},
	}
}

func forwardRequest(ctx context.Context, client *http.Client, upstreamURL, method string, header http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	copyHeaders(req.Header, header)
	req.ContentLength = int64(len(body))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forwarding to upstream %s: %w", upstreamURL, err)
	}
	return resp, nil
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] || strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[key] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
