package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aspy-proxy/aspy/internal/config"
	"github.com/aspy-proxy/aspy/internal/event"
	"github.com/aspy-proxy/aspy/internal/pipeline"
	"github.com/aspy-proxy/aspy/internal/session"
)

const anthropicSSEFixture = `event: message_start
data: {"type":"message_start","message":{"model":"claude-sonnet-4","usage":{"input_tokens":120,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","id":"","name":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello there"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","usage":{"output_tokens":40}}

event: message_stop
data: {"type":"message_stop"}

`

func TestServeHTTP_StreamsSSEAndParsesEvents(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected upstream path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, anthropicSSEFixture)
	}))
	defer upstream.Close()

	var captured []event.Event
	cfg := &config.Config{
		ContextLimit: 1000,
		Clients: map[string]config.ClientConfig{
			"dev-1": {Name: "dev-1", Provider: "anthropic"},
		},
		Providers: map[string]config.ProviderConfig{
			"anthropic": {BaseURL: upstream.URL, Name: "anthropic"},
		},
	}
	p := New(Options{
		Config:   cfg,
		Pipeline: pipeline.New(),
		Sessions: session.NewRegistry(10, time.Hour, time.Hour),
		Notify:   func(e event.Event) { captured = append(captured, e) },
	})

	req := httptest.NewRequest(http.MethodPost, "/dev-1/v1/messages", strings.NewReader(`{"model":"claude-sonnet-4","stream":true,"messages":[]}`))
	req.Header.Set("Authorization", "Bearer test-key")
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "hello there") {
		t.Errorf("expected client body to contain upstream text, got: %s", w.Body.String())
	}

	var sawUsage, sawAssistant bool
	for _, e := range captured {
		switch e.Kind {
		case event.KindApiUsage:
			sawUsage = true
		case event.KindAssistantResponse:
			sawAssistant = true
			ar := e.Payload.(event.AssistantResponse)
			if ar.Content != "hello there" {
				t.Errorf("expected assistant content %q, got %q", "hello there", ar.Content)
			}
		}
	}
	if !sawUsage {
		t.Error("expected an api_usage event to be notified")
	}
	if !sawAssistant {
		t.Error("expected an assistant_response event to be notified")
	}
}

func TestServeHTTP_UnknownClientIsNotFound(t *testing.T) {
	cfg := &config.Config{Clients: map[string]config.ClientConfig{}, Providers: map[string]config.ProviderConfig{}}
	p := New(Options{
		Config:   cfg,
		Pipeline: pipeline.New(),
		Sessions: session.NewRegistry(10, time.Hour, time.Hour),
	})

	req := httptest.NewRequest(http.MethodPost, "/nope/v1/messages", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unconfigured client, got %d", w.Code)
	}
}

func TestServeHTTP_BufferedNonStreamingResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"id":"msg_1","model":"claude-sonnet-4","content":[{"type":"text","text":"hi"}]}`)
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Clients: map[string]config.ClientConfig{
			"dev-1": {Name: "dev-1", Provider: "anthropic"},
		},
		Providers: map[string]config.ProviderConfig{
			"anthropic": {BaseURL: upstream.URL, Name: "anthropic"},
		},
	}
	p := New(Options{
		Config:   cfg,
		Pipeline: pipeline.New(),
		Sessions: session.NewRegistry(10, time.Hour, time.Hour),
	})

	req := httptest.NewRequest(http.MethodPost, "/dev-1/v1/messages", strings.NewReader(`{"stream":false}`))
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"text":"hi"`) {
		t.Errorf("expected buffered body passthrough, got: %s", w.Body.String())
	}
}
