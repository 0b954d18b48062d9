package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aspy-proxy/aspy/internal/config"
	"github.com/aspy-proxy/aspy/internal/memstore"
	"github.com/aspy-proxy/aspy/internal/retrieval"
	"github.com/aspy-proxy/aspy/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aspy.db")
	store, err := memstore.Open(path)
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b := store.NewBatch()
	b.UpsertSession("sess-1", "", "")
	b.InsertUserPrompt("sess-1", "what time is it in boston")
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	eng, err := retrieval.Open(path, 4)
	if err != nil {
		t.Fatalf("retrieval.Open: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	registry := session.NewRegistry(10, time.Hour, time.Hour)
	registry.Touch("sess-1", "")
	registry.RecordRequest("sess-1", 1000, 500, 0.05)

	return New(Options{
		Config:    &config.Config{ContextLimit: 10000},
		Sessions:  registry,
		Retrieval: eng,
	})
}

func TestHandleStats_AggregatesAcrossSessions(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if int(body["sessions"].(float64)) != 1 {
		t.Errorf("expected 1 session, got %v", body["sessions"])
	}
}

func TestHandleContext_ReportsWarningLevel(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/context?user=sess-1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 1500 used tokens / 10000 limit = 15% -> normal
	if body["level"] != "normal" {
		t.Errorf("expected normal level at 15%%, got %v", body["level"])
	}
}

func TestHandleSessionLifecycle_StartThenEnd(t *testing.T) {
	s := newTestServer(t)

	startBody, _ := json.Marshal(sessionKeyBody{Key: "sess-2"})
	req := httptest.NewRequest(http.MethodPost, "/api/session/start", bytes.NewReader(startBody))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	endBody, _ := json.Marshal(sessionKeyBody{Key: "sess-2"})
	req = httptest.NewRequest(http.MethodPost, "/api/session/end", bytes.NewReader(endBody))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	sess, ok := s.sessions.Get("sess-2")
	if !ok || sess.Status != session.StatusEnded {
		t.Errorf("expected sess-2 ended, got %+v ok=%v", sess, ok)
	}
}

func TestHandleSearch_ReturnsLexicalHits(t *testing.T) {
	s := newTestServer(t)
	reqBody, _ := json.Marshal(searchRequestBody{Query: "boston", Mode: "natural", Source: "user_prompts"})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var hits []retrieval.Hit
	if err := json.Unmarshal(w.Body.Bytes(), &hits); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hits) == 0 {
		t.Error("expected at least one hit for 'boston'")
	}
}

func TestHandleLifestats_SessionsEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/lifestats/sessions", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out []retrieval.SessionSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("expected 1 session, got %d", len(out))
	}
}
