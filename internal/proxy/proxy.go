package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aspy-proxy/aspy/internal/config"
	"github.com/aspy-proxy/aspy/internal/event"
	"github.com/aspy-proxy/aspy/internal/logwriter"
	"github.com/aspy-proxy/aspy/internal/memwriter"
	"github.com/aspy-proxy/aspy/internal/parser"
	"github.com/aspy-proxy/aspy/internal/pipeline"
	"github.com/aspy-proxy/aspy/internal/pricing"
	"github.com/aspy-proxy/aspy/internal/session"
)

const maxRequestBody = 10 * 1024 * 1024

// Options holds every dependency the proxy needs, assembled by cmd/aspy's
// startup wiring — the Options-struct-as-dependency-injection idiom is kept
// from the teacher's proxy.Options.
type Options struct {
	Config    *config.Config
	Pipeline  *pipeline.Pipeline
	LogWriter *logwriter.Writer
	MemWriter *memwriter.Writer
	Sessions  *session.Registry
	Pricing   *pricing.Table
	Client    *http.Client
	Augmenter *Augmenter
	// Notify, if set, receives every event that survives the pipeline —
	// the control API's live event tail hangs off this hook so the hot
	// proxy path never imports internal/control directly.
	Notify func(event.Event)
	// RequestTransform, if set, runs over the raw request body before it
	// is forwarded upstream — the request-side counterpart of the
	// response-side augmentation/translation hooks. Unset means identity:
	// the body is forwarded exactly as received, which is the default.
	RequestTransform RequestTransformFunc
}

// RequestTransformFunc is the request-transformation chain's contract: given
// the route and the raw body bytes the client sent, return the bytes to
// forward upstream instead. An error forwards the original body unchanged
// and logs the failure — a broken transform must never block traffic.
type RequestTransformFunc func(ctx context.Context, route Route, body []byte) ([]byte, error)

// Proxy is the http.Handler mounted at the server root.
type Proxy struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	logw      *logwriter.Writer
	memw      *memwriter.Writer
	sessions  *session.Registry
	pricing   *pricing.Table
	client     *http.Client
	augmenter  *Augmenter
	notify     func(event.Event)
	reqXform   RequestTransformFunc
	compaction *parser.CompactionTracker

	mu      sync.Mutex
	crossed map[string]map[float64]bool // session key -> thresholds already warned
	prompts map[string]string           // session key -> most recent extracted prompt text
}

func New(opts Options) *Proxy {
	client := opts.Client
	if client == nil {
		client = &http.Client{Transport: newUpstreamTransport()}
	}
	return &Proxy{
		cfg:        opts.Config,
		pipeline:   opts.Pipeline,
		logw:       opts.LogWriter,
		memw:       opts.MemWriter,
		sessions:   opts.Sessions,
		pricing:    opts.Pricing,
		client:     client,
		augmenter:  opts.Augmenter,
		notify:     opts.Notify,
		reqXform:   opts.RequestTransform,
		compaction: parser.NewCompactionTracker(),
		crossed:    make(map[string]map[float64]bool),
		prompts:    make(map[string]string),
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	route := ParseRoute(r.URL.Path)

	providerKey, upstream, credential, ok := p.resolveUpstream(route, r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if p.reqXform != nil {
		xformed, xerr := p.reqXform(r.Context(), route, body)
		if xerr != nil {
			slog.Error("request transform failed, forwarding original body", "error", xerr)
		} else {
			body = xformed
		}
	}

	meta := parser.ExtractRequestMeta(body, route.Format)

	sessionKey, fingerprint := session.DeriveKey(route.ClientID, credential)
	if sessionKey == "" {
		sessionKey = "anonymous"
	}
	p.sessions.Touch(sessionKey, fingerprint)

	pctx := event.Context{SessionKey: sessionKey, Fingerprint: fingerprint}

	p.emit(pctx, requestID, event.Event{
		Kind: event.KindRequest, Timestamp: time.Now(), Session: sessionKey,
		Payload: event.Request{Method: r.Method, Path: route.UpstreamPath, BodySize: len(body)},
	})

	if meta.Prompt != "" {
		p.mu.Lock()
		p.prompts[sessionKey] = meta.Prompt
		p.mu.Unlock()
		p.emit(pctx, requestID, event.Event{
			Kind: event.KindUserPrompt, Timestamp: time.Now(), Session: sessionKey,
			Payload: event.UserPrompt{Content: meta.Prompt},
		})
	}

	resp, err := forwardRequest(r.Context(), p.client, upstream, r.Method, r.Header, body)
	if err != nil {
		slog.Error("upstream request failed", "provider", providerKey, "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)

	if route.Format == parser.FormatUnknown || !meta.Stream {
		p.relayBuffered(w, resp, route, requestID, pctx, start)
		return
	}
	p.relayStreaming(w, resp, route, requestID, pctx, meta, start)
}

// resolveUpstream looks up the configured client/provider for the route,
// falling back to a bare-proxy default provider when no client segment was
// given and one is configured.
func (p *Proxy) resolveUpstream(route Route, r *http.Request) (providerKey, upstreamURL, credential string, ok bool) {
	credential = bearerCredential(r.Header)

	if route.ClientID != "" {
		client, exists := p.cfg.Clients[route.ClientID]
		if !exists {
			return "", "", credential, false
		}
		provider, exists := p.cfg.Providers[client.Provider]
		if !exists {
			return "", "", credential, false
		}
		return client.Provider, provider.BaseURL + route.UpstreamPath, credential, true
	}

	// Bare proxy: no client segment. Fall back to a provider matching the
	// detected API format if one is configured under that name.
	def := "anthropic"
	if route.Format == parser.FormatOpenAI {
		def = "openai"
	}
	provider, exists := p.cfg.Providers[def]
	if !exists {
		return "", "", credential, false
	}
	return def, provider.BaseURL + route.UpstreamPath, credential, true
}

func bearerCredential(h http.Header) string {
	auth := h.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return h.Get("X-Api-Key")
}

// relayBuffered handles non-streaming responses and unknown-format traffic,
// which is passed through untouched — identical in spirit to the teacher's
// passThrough for APITypeUnknown.
func (p *Proxy) relayBuffered(w http.ResponseWriter, resp *http.Response, route Route, requestID string, pctx event.Context, start time.Time) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "failed to read upstream response", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	w.Write(body)

	p.emit(pctx, requestID, event.Event{
		Kind: event.KindResponse, Timestamp: time.Now(), Session: pctx.SessionKey,
		Payload: event.Response{RequestID: requestID, Status: resp.StatusCode, TotalDuration: time.Since(start)},
	})

	if route.Format != parser.FormatUnknown {
		sp := parser.NewStreamParser(requestID, route.Format)
		for _, e := range sp.Feed(body) {
			p.emit(pctx, requestID, e)
		}
		for _, e := range sp.Close() {
			p.emit(pctx, requestID, e)
		}
	}
}

// relayStreaming is the tee: response bytes are written to the client as
// they arrive, and the same bytes are fed to the incremental parser in
// parallel. This is the deliberate divergence from the teacher's
// buffer-then-forward strategy — the teacher must hold the entire SSE
// stream in memory to rewrite it before replay (it blocks or drops tool
// calls); Aspy only observes, so nothing needs to be withheld from the
// client while a decision is pending.
func (p *Proxy) relayStreaming(w http.ResponseWriter, resp *http.Response, route Route, requestID string, pctx event.Context, meta parser.RequestMeta, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	sp := parser.NewStreamParser(requestID, route.Format)
	reader := bufio.NewReader(resp.Body)
	buf := make([]byte, 4096)
	ttfb := time.Duration(0)
	first := true

	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			w.Write(chunk)
			flusher.Flush()
			if first {
				ttfb = time.Since(start)
				first = false
			}

			for _, e := range sp.Feed(chunk) {
				p.handleParsedEvent(w, flusher, sp, pctx, requestID, e)
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				slog.Error("streaming upstream read failed", "error", readErr)
			}
			break
		}
	}

	for _, e := range sp.Close() {
		p.handleParsedEvent(w, flusher, sp, pctx, requestID, e)
	}

	p.emit(pctx, requestID, event.Event{
		Kind: event.KindResponse, Timestamp: time.Now(), Session: pctx.SessionKey,
		Payload: event.Response{RequestID: requestID, Status: resp.StatusCode, TimeToFirstByte: ttfb, TotalDuration: time.Since(start)},
	})
}

func (p *Proxy) handleParsedEvent(w http.ResponseWriter, flusher http.Flusher, sp *parser.StreamParser, pctx event.Context, requestID string, e event.Event) {
	p.emit(pctx, requestID, e)

	if e.Kind != event.KindApiUsage || p.augmenter == nil {
		return
	}
	usage := e.Payload.(event.ApiUsage)
	p.maybeInjectContextWarning(w, flusher, sp, pctx, usage)
}

// maybeInjectContextWarning implements the augmentation hook: fired after
// parsing (so the real usage numbers are known), before translation (there
// is none for same-format passthrough), per the parse→augment→translate
// ordering.
func (p *Proxy) maybeInjectContextWarning(w http.ResponseWriter, flusher http.Flusher, sp *parser.StreamParser, pctx event.Context, usage event.ApiUsage) {
	p.mu.Lock()
	crossed, ok := p.crossed[pctx.SessionKey]
	if !ok {
		crossed = make(map[float64]bool)
		p.crossed[pctx.SessionKey] = crossed
	}
	p.mu.Unlock()

	used := usage.InputTokens + usage.OutputTokens
	pct, fire := p.augmenter.Check(used, p.cfg.ContextLimit, crossed)
	if !fire {
		return
	}

	for _, frame := range InjectedFrames(sp.NextBlockIndex(), pct) {
		fmt.Fprint(w, frame)
	}
	flusher.Flush()
}

// emit runs one event through the pipeline, then dispatches the (possibly
// transformed) surviving event to both writers and the session registry.
// A processor error never reaches here as a dropped event — Pipeline.Run
// already logged it and kept the pre-error value flowing.
func (p *Proxy) emit(pctx event.Context, requestID string, e event.Event) {
	out, keep := p.pipeline.Run(context.Background(), pctx, e)
	if !keep {
		return
	}

	var usageCost float64
	switch out.Kind {
	case event.KindApiUsage:
		u := out.Payload.(event.ApiUsage)
		if p.pricing != nil {
			usageCost, _ = p.pricing.Estimate(pricing.Usage{Model: u.Model, InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, CacheRead: u.CacheRead, CacheCreation: u.CacheCreation})
		}
		p.sessions.RecordRequest(pctx.SessionKey, int64(u.InputTokens), int64(u.OutputTokens), usageCost)
	case event.KindToolCall:
		p.sessions.RecordToolCall(pctx.SessionKey)
	case event.KindThinking:
		p.sessions.RecordThinking(pctx.SessionKey)
	}

	snap, _ := p.sessions.Get(pctx.SessionKey)

	if p.logw != nil {
		p.logw.Send(pctx.SessionKey, out)
	}
	if p.memw != nil {
		p.memw.Send(memwriter.Job{
			SessionKey: pctx.SessionKey, Fingerprint: pctx.Fingerprint, RequestID: requestID, Event: out,
			Source: string(snap.Source), TotalTokens: snap.Aggregates.InputTokens + snap.Aggregates.OutputTokens,
			TotalCost: snap.Aggregates.CostUSD, ToolCalls: int64(snap.Aggregates.ToolCallCount),
			ThinkingBlocks: int64(snap.Aggregates.ThinkingBlockCount),
		})
	}

	p.sessions.PushEvent(pctx.SessionKey, session.EventSummary{Timestamp: out.Timestamp, Kind: string(out.Kind)})

	if p.notify != nil {
		p.notify(out)
	}

	switch out.Kind {
	case event.KindApiUsage:
		u := out.Payload.(event.ApiUsage)
		p.checkCompaction(pctx, requestID, u.InputTokens)
	case event.KindToolCall:
		if snap, ok := parser.DetectTodoSnapshot(out.Payload.(event.ToolCall)); ok {
			p.emit(pctx, requestID, event.Event{
				Kind: event.KindTodoSnapshot, Timestamp: time.Now(), Session: pctx.SessionKey,
				Payload: snap,
			})
		}
	}
}

// ForgetSession drops a session's compaction-tracking and last-prompt state.
// Call this once a session has ended — the registry itself keeps the session
// record around for its lifetime stats, but the per-request bookkeeping this
// tracks has no further use once no more requests will arrive for it.
func (p *Proxy) ForgetSession(key string) {
	p.compaction.Forget(key)
	p.mu.Lock()
	delete(p.prompts, key)
	delete(p.crossed, key)
	p.mu.Unlock()
}

// checkCompaction feeds the reported input-token count for this request,
// plus the session's most recently seen prompt, into the compaction
// tracker, and emits whatever context_compact/context_recovery event it
// reports.
func (p *Proxy) checkCompaction(pctx event.Context, requestID string, inputTokens int) {
	p.mu.Lock()
	prompt := p.prompts[pctx.SessionKey]
	p.mu.Unlock()

	compact, recovery := p.compaction.Observe(pctx.SessionKey, inputTokens, prompt, p.cfg.Parser.ContextCompactThresholdPct)
	switch {
	case compact != nil:
		p.emit(pctx, requestID, event.Event{
			Kind: event.KindContextCompact, Timestamp: time.Now(), Session: pctx.SessionKey, Payload: *compact,
		})
	case recovery != nil:
		p.emit(pctx, requestID, event.Event{
			Kind: event.KindContextRecovery, Timestamp: time.Now(), Session: pctx.SessionKey, Payload: *recovery,
		})
	}
}
