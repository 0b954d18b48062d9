// Package control is the read-only JSON HTTP interface and session
// lifecycle hooks, mounted on the same bind address as the proxy. Grounded
// on the teacher's internal/dashboard/dashboard.go (mux-per-endpoint
// layout, writeJSON idiom) — re-routed from agent/rule/kill-switch
// management onto session stats, event history, and memory retrieval; the
// embedded HTML dashboard page is dropped (presentation-layer, out of
// scope), only the handler and websocket-hub plumbing is kept.
package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/aspy-proxy/aspy/internal/config"
	"github.com/aspy-proxy/aspy/internal/event"
	"github.com/aspy-proxy/aspy/internal/memwriter"
	"github.com/aspy-proxy/aspy/internal/retrieval"
	"github.com/aspy-proxy/aspy/internal/session"
)

// sessionForgetter is the subset of *proxy.Proxy this package needs: dropping
// per-request tracking state (compaction bookkeeping, last-seen prompt) for a
// session that has just ended. A narrow interface instead of importing
// internal/proxy directly keeps this package usable in proxy-less tests.
type sessionForgetter interface {
	ForgetSession(key string)
}

// Options holds the dependencies injected into the control server.
type Options struct {
	Config    *config.Config
	Sessions  *session.Registry
	Retrieval *retrieval.Engine
	// MemWriter, if set, lets the explicit session/end hook persist the
	// session's closing aggregates immediately rather than waiting for the
	// background idle sweep to notice.
	MemWriter *memwriter.Writer
}

// Server serves the control API. Implements http.Handler.
type Server struct {
	cfg       *config.Config
	sessions  *session.Registry
	retrieval *retrieval.Engine
	memw      *memwriter.Writer
	proxy     sessionForgetter
	hub       *hub
}

// New creates a Server and starts its websocket broadcast hub.
func New(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		sessions:  opts.Sessions,
		retrieval: opts.Retrieval,
		memw:      opts.MemWriter,
		hub:       newHub(),
	}
	go s.hub.run()
	return s
}

// SetProxy wires the proxy handler in after construction — the proxy needs
// this server's Notify callback, so the two can't be built in one step.
func (s *Server) SetProxy(p sessionForgetter) {
	s.proxy = p
}

// Notify is passed to proxy.Options.Notify — it publishes every surviving
// event onto the live event tail. Safe to call from the proxy's request
// goroutines; publish is non-blocking.
func (s *Server) Notify(e event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.hub.publish(data)
}

// Handler returns the mux routing every control API path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/stream", s.handleEventStream)
	mux.HandleFunc("/api/context", s.handleContext)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/session/start", s.handleSessionStart)
	mux.HandleFunc("/api/session/end", s.handleSessionEnd)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/lifestats/", s.handleLifestats)
	return mux
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Status: status})
}

// handleStats returns aggregate stats, or one session's stats when ?user= is given.
// GET /api/stats[?user=...]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	if user := r.URL.Query().Get("user"); user != "" {
		sess, ok := s.sessions.Get(user)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeJSON(w, http.StatusOK, sess)
		return
	}

	all := s.sessions.List()
	totals := session.Aggregates{}
	for _, sess := range all {
		totals.RequestCount += sess.Aggregates.RequestCount
		totals.ToolCallCount += sess.Aggregates.ToolCallCount
		totals.ThinkingBlockCount += sess.Aggregates.ThinkingBlockCount
		totals.InputTokens += sess.Aggregates.InputTokens
		totals.OutputTokens += sess.Aggregates.OutputTokens
		totals.CostUSD += sess.Aggregates.CostUSD
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": len(all),
		"totals":   totals,
	})
}

// handleEvents returns a session's recent ring-buffer events.
// GET /api/events?limit=...&type=...&user=...
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter required")
		return
	}
	events := s.sessions.RecentEvents(user)

	if kind := r.URL.Query().Get("type"); kind != "" {
		filtered := events[:0:0]
		for _, e := range events {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n >= 0 && n < len(events) {
			events = events[len(events)-n:]
		}
	}
	writeJSON(w, http.StatusOK, events)
}

// contextWindowLevel mirrors the thresholds proxy.Augmenter warns on.
func contextWindowLevel(pct float64) string {
	switch {
	case pct >= 95:
		return "critical"
	case pct >= 85:
		return "high"
	case pct >= 70:
		return "warning"
	default:
		return "normal"
	}
}

// handleContext reports context-window usage for a session.
// GET /api/context[?user=...]
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter required")
		return
	}
	sess, ok := s.sessions.Get(user)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	used := sess.Aggregates.InputTokens + sess.Aggregates.OutputTokens
	limit := s.cfg.ContextLimit
	pct := 0.0
	if limit > 0 {
		pct = 100 * float64(used) / float64(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"used_tokens":   used,
		"context_limit": limit,
		"percent":       pct,
		"level":         contextWindowLevel(pct),
	})
}

// sessionJSON marks whether the requester's own fingerprint owns the row.
type sessionJSON struct {
	session.Session
	IsMine bool `json:"is_mine"`
}

// handleSessions lists all active sessions.
// GET /api/sessions[?fingerprint=...]
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	mine := r.URL.Query().Get("fingerprint")
	all := s.sessions.List()
	out := make([]sessionJSON, 0, len(all))
	for _, sess := range all {
		out = append(out, sessionJSON{Session: sess, IsMine: mine != "" && sess.Fingerprint == mine})
	}
	writeJSON(w, http.StatusOK, out)
}

type sessionKeyBody struct {
	Key string `json:"key"`
}

// handleSessionStart begins a session explicitly.
// POST /api/session/start {"key": "..."}
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var body sessionKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}
	sess := s.sessions.Start(body.Key)
	writeJSON(w, http.StatusOK, sess)
}

// handleSessionEnd ends a session explicitly.
// POST /api/session/end {"key": "..."}
func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var body sessionKeyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}
	s.sessions.End(body.Key)
	if s.proxy != nil {
		s.proxy.ForgetSession(body.Key)
	}
	if s.memw != nil {
		if sess, ok := s.sessions.Get(body.Key); ok {
			s.memw.EndSession(sess.Key, sess.Fingerprint, string(sess.Source),
				sess.Aggregates.InputTokens+sess.Aggregates.OutputTokens, sess.Aggregates.CostUSD,
				int64(sess.Aggregates.ToolCallCount), int64(sess.Aggregates.ThinkingBlockCount))
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": body.Key, "status": "ended"})
}

type searchRequestBody struct {
	Query  string `json:"query"`
	Mode   string `json:"mode"`   // "phrase" | "natural" | "raw"
	Source string `json:"source"` // "user_prompts" | "assistant_responses" | "thinking" | "tool_io"
	Limit  int    `json:"limit"`
}

func parseQueryMode(s string) retrieval.QueryMode {
	switch strings.ToLower(s) {
	case "phrase":
		return retrieval.ModePhrase
	case "raw":
		return retrieval.ModeRaw
	default:
		return retrieval.ModeNatural
	}
}

// handleSearch runs a lexical search over the retrieval engine.
// POST /api/search {"query": "...", "mode": "natural", "source": "user_prompts", "limit": 20}
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}
	limit := body.Limit
	if limit <= 0 {
		limit = 20
	}
	mode := parseQueryMode(body.Mode)

	var (
		hits []retrieval.Hit
		err  error
	)
	switch body.Source {
	case "thinking":
		hits, err = s.retrieval.SearchThinking(body.Query, mode, limit)
	case "tool_io":
		hits, err = s.retrieval.SearchToolIO(body.Query, mode, limit)
	case "assistant_responses":
		hits, err = s.retrieval.SearchAssistantResponses(body.Query, mode, limit)
	default:
		hits, err = s.retrieval.SearchUserPrompts(body.Query, mode, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// handleLifestats serves the memory retrieval routes:
// GET /api/lifestats/sessions              — recent session listing
// GET /api/lifestats/lifetime/user/{id}    — one session's lifetime stats
func (s *Server) handleLifestats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/lifestats/")
	parts := strings.Split(rest, "/")

	switch parts[0] {
	case "sessions":
		limit := 50
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
				limit = n
			}
		}
		out, err := s.retrieval.ListSessions(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, out)
	case "lifetime":
		if len(parts) < 3 || parts[1] != "user" {
			writeError(w, http.StatusNotFound, "expected /api/lifestats/lifetime/user/{id}")
			return
		}
		stats, err := s.retrieval.SessionLifetimeStats(parts[2])
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	default:
		writeError(w, http.StatusNotFound, "unknown lifestats endpoint")
	}
}
