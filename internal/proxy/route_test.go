package proxy

import (
	"testing"

	"github.com/aspy-proxy/aspy/internal/parser"
)

func TestParseRoute_ClientSegment(t *testing.T) {
	r := ParseRoute("/dev-1/v1/messages")
	if r.ClientID != "dev-1" {
		t.Errorf("expected client id dev-1, got %q", r.ClientID)
	}
	if r.UpstreamPath != "/v1/messages" {
		t.Errorf("expected upstream path /v1/messages, got %q", r.UpstreamPath)
	}
	if r.Format != parser.FormatAnthropic {
		t.Errorf("expected anthropic format, got %v", r.Format)
	}
}

func TestParseRoute_BareProxyNoClientSegment(t *testing.T) {
	r := ParseRoute("/v1/chat/completions")
	if r.ClientID != "" {
		t.Errorf("expected no client id for bare proxy, got %q", r.ClientID)
	}
	if r.UpstreamPath != "/v1/chat/completions" {
		t.Errorf("expected upstream path preserved, got %q", r.UpstreamPath)
	}
	if r.Format != parser.FormatOpenAI {
		t.Errorf("expected openai format, got %v", r.Format)
	}
}

func TestParseRoute_UnknownFormat(t *testing.T) {
	r := ParseRoute("/dev-1/v1/embeddings")
	if r.Format != parser.FormatUnknown {
		t.Errorf("expected unknown format for unrecognized api path, got %v", r.Format)
	}
}
